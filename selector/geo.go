// Copyright 2024-2025 The rpcx-rs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package selector

import (
	"math"
	"math/rand"
	"sync"

	"github.com/lgphp/rpcx-rs/attribute"
	"github.com/lgphp/rpcx-rs/discovery"
)

// NewClosest creates a selector that picks the server geographically
// closest to the given client coordinates, in degrees. Servers advertise
// their position through the Latitude and Longitude attributes; ties are
// broken uniformly at random. Servers without coordinates are only
// considered when no server has any.
func NewClosest(latitude, longitude float64) Selector {
	return &closestSelector{latitude: latitude, longitude: longitude}
}

type closestSelector struct {
	latitude  float64
	longitude float64

	mu sync.RWMutex
	// +checklocks:mu
	servers []geoServer
}

type geoServer struct {
	key       string
	latitude  float64
	longitude float64
	hasCoords bool
}

func (s *closestSelector) Select(_, _ string, _ any) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.servers) == 0 {
		return ""
	}
	var closest []string
	best := math.Inf(1)
	for _, server := range s.servers {
		if !server.hasCoords {
			continue
		}
		dist := distance(s.latitude, s.longitude, server.latitude, server.longitude)
		switch {
		case dist < best:
			best = dist
			closest = append(closest[:0], server.key)
		case dist == best:
			closest = append(closest, server.key)
		}
	}
	if len(closest) == 0 {
		// No server reported coordinates; fall back to a uniform pick.
		return s.servers[rand.Intn(len(s.servers))].key //nolint:gosec // does not need to be cryptographically secure
	}
	return closest[rand.Intn(len(closest))] //nolint:gosec // does not need to be cryptographically secure
}

func (s *closestSelector) UpdateServers(servers []discovery.Server) {
	geo := make([]geoServer, 0, len(servers))
	for _, server := range servers {
		lat, okLat := attribute.GetValue(server.Attributes, Latitude)
		lng, okLng := attribute.GetValue(server.Attributes, Longitude)
		geo = append(geo, geoServer{
			key:       server.Key,
			latitude:  lat,
			longitude: lng,
			hasCoords: okLat && okLng,
		})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = geo
}

// distance returns the great-circle distance in kilometers between two
// points given in degrees, using the spherical law of cosines.
func distance(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6378.137
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	deltaLambda := (lng1 - lng2) * math.Pi / 180
	cosine := math.Sin(phi1)*math.Sin(phi2) + math.Cos(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)
	return earthRadiusKm * math.Acos(max(min(cosine, 1), -1))
}
