// Copyright 2025 gorse Project Authors
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

package mkr

import (
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gorse-io/mkr/common/encoding"
	"github.com/gorse-io/mkr/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/sortutil"
)

const CheckpointFile = "mkr.ckpt"

// ErrCorruptedCheckpoint is the type of errors raised by undecodable
// checkpoints or checkpoints whose shapes disagree with the model.
const ErrCorruptedCheckpoint = errors.ConstError("corrupted checkpoint")

// NewVersion returns a version tag of seconds since epoch.
func NewVersion() int64 {
	return time.Now().Unix()
}

// CleanDir converts a checkpoint directory to the form of object names:
// cleaned, without leading or trailing slashes, and empty for the root.
func CleanDir(dir string) string {
	dir = strings.Trim(path.Clean(dir), "/")
	if dir == "." {
		return ""
	}
	return dir
}

// CheckpointPath returns the name of the checkpoint of a version.
func CheckpointPath(dir string, version int64) string {
	return path.Join(CleanDir(dir), strconv.FormatInt(version, 10), CheckpointFile)
}

func WriteCheckpoint(w io.Writer, params Parameters) error {
	return encoding.WriteGob(w, map[string][][]float32(params))
}

func ReadCheckpoint(r io.Reader) (Parameters, error) {
	var params map[string][][]float32
	if err := encoding.ReadGob(r, &params); err != nil {
		return nil, errors.WithType(err, ErrCorruptedCheckpoint)
	}
	return params, nil
}

// SaveCheckpoint writes parameters to the store.
func SaveCheckpoint(store blob.Store, name string, params Parameters) error {
	w, _, err := store.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = WriteCheckpoint(w, params); err != nil {
		_ = w.Close()
		return errors.Annotatef(err, "write checkpoint %s", name)
	}
	return errors.Trace(w.Close())
}

// LoadCheckpoint reads parameters from the store.
func LoadCheckpoint(store blob.Store, name string) (Parameters, error) {
	r, err := store.Open(name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	params, err := ReadCheckpoint(r)
	if err != nil {
		return nil, errors.Annotatef(err, "read checkpoint %s", name)
	}
	return params, nil
}

// ListVersions returns tags of versions holding a checkpoint under dir in
// ascending order. Entries not named by a positive integer are ignored.
func ListVersions(store blob.Store, dir string) ([]int64, error) {
	dir = CleanDir(dir)
	var (
		names []string
		err   error
	)
	if dir == "" {
		names, err = store.List()
	} else {
		names, err = blob.ListPrefix(store, dir)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	var versions sortutil.Int64Slice
	for _, name := range names {
		if dir != "" {
			name = name[len(dir)+1:]
		}
		tag, file, found := strings.Cut(name, "/")
		if !found || file != CheckpointFile {
			continue
		}
		version, err := strconv.ParseInt(tag, 10, 64)
		if err != nil || version <= 0 {
			continue
		}
		versions = append(versions, version)
	}
	versions = lo.Uniq(versions)
	versions.Sort()
	return versions, nil
}

// LatestVersion returns the numerically greatest version under dir. It
// returns a NotFound error if there is no checkpoint.
func LatestVersion(store blob.Store, dir string) (int64, error) {
	versions, err := ListVersions(store, dir)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if len(versions) == 0 {
		return 0, errors.NotFoundf("checkpoint under %s", dir)
	}
	return versions[len(versions)-1], nil
}
