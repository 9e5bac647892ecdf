// Copyright 2022 gorse Project Authors
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

package storage

import (
	"net/url"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

const (
	SQLitePrefix = "sqlite://"
	S3Prefix     = "s3://"
	GCSPrefix    = "gcs://"
	AzurePrefix  = "azblob://"
)

// SplitLocation splits "scheme://bucket/prefix" into the scheme prefix (with
// "://"), the bucket and the object prefix without surrounding slashes. A
// location without scheme is a local path and returned as is.
func SplitLocation(location string) (scheme, bucket, prefix string) {
	i := strings.Index(location, "://")
	if i < 0 {
		return "", "", location
	}
	scheme = location[:i+len("://")]
	bucket, prefix, _ = strings.Cut(location[len(scheme):], "/")
	return scheme, bucket, strings.Trim(prefix, "/")
}

// AppendURLParams appends query parameters to a data source name.
func AppendURLParams(rawURL string, params []lo.Tuple2[string, string]) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Trace(err)
	}
	q := parsed.Query()
	for _, tuple := range params {
		q.Add(tuple.A, tuple.B)
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
