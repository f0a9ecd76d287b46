/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"fmt"
	"sort"

	"github.com/blnkfinance/openbank/internal/apierror"
)

// Registry resolves provider IDs to gateways. It is built once at startup
// and passed to the service explicitly.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.ID()] = g
	}
	return r
}

func (r *Registry) Get(providerID string) (Gateway, error) {
	g, ok := r.gateways[providerID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrInvalidRequest, fmt.Sprintf("unknown provider %q", providerID), nil)
	}
	return g, nil
}

// IDs lists registered providers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.gateways))
	for id := range r.gateways {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
