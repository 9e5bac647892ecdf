// Copyright 2024 gorse Project Authors
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

package dataset

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/gorse-io/mkr/common/util"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
)

// DefaultSeparator separates columns in ratings_final.txt and kg_final.txt.
const DefaultSeparator = "\t"

// openWithProgress opens a file and reports read bytes on a progress bar.
func openWithProgress(path, description string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Trace(err)
	}
	reader := progressbar.NewReader(file, progressbar.DefaultBytes(stat.Size(), description))
	return &reader, nil
}

// LoadInteractions loads "user<sep>item<sep>label" lines from a file.
func LoadInteractions(path, sep string) (*Interactions, error) {
	file, err := openWithProgress(path, "Loading ratings")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadInteractions(file, sep)
}

// ReadInteractions reads "user<sep>item<sep>label" lines. Labels must be 0 or 1.
func ReadInteractions(r io.Reader, sep string) (*Interactions, error) {
	data := NewInteractions(0)
	err := scanRecords(r, sep, func(lineNumber int, fields [3]int32) error {
		if fields[2] != 0 && fields[2] != 1 {
			return errors.NotValidf("label %d at line %d", fields[2], lineNumber)
		}
		data.Append(fields[0], fields[1], float32(fields[2]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// LoadTriples loads "head<sep>relation<sep>tail" lines from a file.
func LoadTriples(path, sep string) (*Triples, error) {
	file, err := openWithProgress(path, "Loading knowledge graph")
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	return ReadTriples(file, sep)
}

// ReadTriples reads "head<sep>relation<sep>tail" lines.
func ReadTriples(r io.Reader, sep string) (*Triples, error) {
	kg := NewTriples(0)
	err := scanRecords(r, sep, func(_ int, fields [3]int32) error {
		kg.Append(fields[0], fields[1], fields[2])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return kg, nil
}

func scanRecords(r io.Reader, sep string, handle func(lineNumber int, fields [3]int32) error) error {
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var columns []string
		if sep == "" {
			columns = strings.Fields(line)
		} else {
			columns = strings.Split(line, sep)
		}
		if len(columns) < 3 {
			return errors.NotValidf("line %d %q", lineNumber, line)
		}
		var fields [3]int32
		for i := range fields {
			v, err := util.ParseInt32(strings.TrimSpace(columns[i]))
			if err != nil {
				return errors.Annotatef(err, "line %d", lineNumber)
			}
			if v < 0 {
				return errors.NotValidf("negative id %d at line %d", v, lineNumber)
			}
			fields[i] = v
		}
		if err := handle(lineNumber, fields); err != nil {
			return err
		}
	}
	return errors.Trace(scanner.Err())
}
