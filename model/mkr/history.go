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
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mkr/dataset"
)

// BuildHistory collects interacted items of each user. Negative interactions
// are included only if includeNegatives is true.
func BuildHistory(data *dataset.Interactions, includeNegatives bool) map[int32]mapset.Set[int32] {
	history := make(map[int32]mapset.Set[int32])
	for i := 0; i < data.Len(); i++ {
		if !includeNegatives && data.Labels[i] != 1 {
			continue
		}
		user := data.Users[i]
		if _, exist := history[user]; !exist {
			history[user] = mapset.NewThreadUnsafeSet[int32]()
		}
		history[user].Add(data.Items[i])
	}
	return history
}
