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

package blob

import (
	"io"
	"path"
	"strings"

	"github.com/gorse-io/mkr/config"
	"github.com/gorse-io/mkr/storage"
	"github.com/juju/errors"
)

// Store keeps named objects. Names are slash separated paths relative to the
// root of the store.
type Store interface {
	// Open an object for reading. It returns a NotFound error if the object does not exist.
	Open(name string) (io.ReadCloser, error)
	// Create an object for writing. Close of the writer blocks until the object is
	// persisted and returns the error of persisting. The done channel is closed
	// when the writing is complete.
	Create(name string) (io.WriteCloser, chan struct{}, error)
	// List names of all objects.
	List() ([]string, error)
	// Remove an object.
	Remove(name string) error
}

// Open a blob store from configuration. The blob store location is a local
// directory or an URL of S3, GCS or Azure Blob.
func Open(cfg config.StorageConfig) (Store, error) {
	scheme, bucket, prefix := storage.SplitLocation(cfg.BlobStore)
	switch scheme {
	case "":
		return NewPOSIX(prefix), nil
	case storage.S3Prefix:
		return NewS3(cfg.S3, bucket, prefix)
	case storage.GCSPrefix:
		return NewGCS(cfg.GCS, bucket, prefix)
	case storage.AzurePrefix:
		return NewAzureBlob(cfg.Azure, bucket, prefix)
	default:
		return nil, errors.NotSupportedf("blob store %s", cfg.BlobStore)
	}
}

// ListPrefix lists names under a directory-like prefix.
func ListPrefix(store Store, prefix string) ([]string, error) {
	names, err := store.List()
	if err != nil {
		return nil, errors.Trace(err)
	}
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	var matched []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

// keyPrefix maps names of a remote store to object keys under a prefix of
// the bucket or container.
type keyPrefix string

func newKeyPrefix(prefix string) keyPrefix {
	return keyPrefix(strings.Trim(prefix, "/"))
}

// key returns the object key of a name.
func (p keyPrefix) key(name string) string {
	return path.Join(string(p), name)
}

// listing returns the prefix passed to list requests. It is empty or ends
// with a slash.
func (p keyPrefix) listing() string {
	if p == "" {
		return ""
	}
	return string(p) + "/"
}

// name converts a listed object key to a name. Keys outside the prefix and
// directory markers are skipped.
func (p keyPrefix) name(key string) (string, bool) {
	name, found := strings.CutPrefix(key, p.listing())
	return name, found && name != "" && !strings.HasSuffix(name, "/")
}

// uploadWriter is the write end of a pipe whose read end is consumed by an
// upload goroutine.
type uploadWriter struct {
	*io.PipeWriter
	done chan struct{}
	err  error
}

// newUploadWriter starts upload in a goroutine.
func newUploadWriter(upload func(r io.Reader) error) *uploadWriter {
	pr, pw := io.Pipe()
	w := &uploadWriter{PipeWriter: pw, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.err = upload(pr)
		// unblock writers if the upload stopped early
		_ = pr.CloseWithError(w.err)
	}()
	return w
}

func (w *uploadWriter) Close() error {
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	<-w.done
	return w.err
}
