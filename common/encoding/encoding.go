// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package encoding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gorse-io/mkr/common/util"
	"github.com/juju/errors"
)

// WriteString writes string to byte stream.
func WriteString(w io.Writer, s string) error {
	return WriteBytes(w, []byte(s))
}

// ReadString reads string from byte stream.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	return string(data), err
}

// WriteBytes writes bytes to byte stream.
func WriteBytes(w io.Writer, s []byte) error {
	err := binary.Write(w, binary.LittleEndian, int32(len(s)))
	if err != nil {
		return errors.Trace(err)
	}
	n, err := w.Write(s)
	if err != nil {
		return errors.Trace(err)
	} else if n != len(s) {
		return errors.New("fail to write bytes")
	}
	return nil
}

// ReadBytes reads bytes from byte stream.
func ReadBytes(r io.Reader) ([]byte, error) {
	var length int32
	err := binary.Read(r, binary.LittleEndian, &length)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if length < 0 {
		return nil, errors.NotValidf("byte length %d", length)
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

// WriteGob writes object to byte stream.
func WriteGob(w io.Writer, v any) error {
	buffer := bytes.NewBuffer(nil)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(v)
	if err != nil {
		return errors.Trace(err)
	}
	return WriteBytes(w, buffer.Bytes())
}

// ReadGob read object from byte stream.
func ReadGob(r io.Reader, v any) error {
	data, err := ReadBytes(r)
	if err != nil {
		return err
	}
	buffer := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buffer)
	return errors.Trace(decoder.Decode(v))
}

// WriteTextMatrix writes a matrix as text, one row per line and values separated
// by spaces. Values are formatted as %.18e so files can be read by numpy.loadtxt.
func WriteTextMatrix(w io.Writer, m [][]float32) error {
	writer := bufio.NewWriter(w)
	for _, row := range m {
		for j, v := range row {
			if j > 0 {
				if err := writer.WriteByte(' '); err != nil {
					return errors.Trace(err)
				}
			}
			if _, err := fmt.Fprintf(writer, "%.18e", v); err != nil {
				return errors.Trace(err)
			}
		}
		if err := writer.WriteByte('\n'); err != nil {
			return errors.Trace(err)
		}
	}
	return errors.Trace(writer.Flush())
}

// ReadTextMatrix reads a matrix written by WriteTextMatrix. Blank lines are skipped
// and every row must have the same number of columns.
func ReadTextMatrix(r io.Reader) ([][]float32, error) {
	var (
		m          [][]float32
		lineNumber int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		lineNumber++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(m) > 0 && len(fields) != len(m[0]) {
			return nil, errors.NotValidf("line %d has %d columns, expect %d", lineNumber, len(fields), len(m[0]))
		}
		row := make([]float32, len(fields))
		for j, field := range fields {
			v, err := util.ParseFloat[float32](field)
			if err != nil {
				return nil, errors.Annotatef(err, "line %d", lineNumber)
			}
			row[j] = v
		}
		m = append(m, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	return m, nil
}

func FormatFloat32(val float32) string {
	return strconv.FormatFloat(float64(val), 'f', -1, 32)
}
