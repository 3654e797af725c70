package recommend

import (
	"fmt"
	"math"
	"strings"
)

// AreaType classifies an address for travel speed assumptions
type AreaType string

const (
	AreaUrban    AreaType = "urban"
	AreaSuburban AreaType = "suburban"
	AreaRural    AreaType = "rural"
)

// Assumed travel speeds in km/h
var areaSpeeds = map[AreaType]float64{
	AreaUrban:    20, // city traffic
	AreaSuburban: 30, // town areas
	AreaRural:    40, // countryside
}

const defaultSpeedKmh = 25.0

var (
	urbanKeywords    = []string{"city", "blantyre", "lilongwe", "mzuzu", "zomba"}
	suburbanKeywords = []string{"town", "trading", "market"}
)

// Haversine computes the great-circle distance between two points in
// kilometers, using an Earth radius of 6371 km.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1 = lat1 * math.Pi / 180
	lon1 = lon1 * math.Pi / 180
	lat2 = lat2 * math.Pi / 180
	lon2 = lon2 * math.Pi / 180

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Asin(math.Sqrt(a))

	return c * earthRadiusKm
}

// ClassifyArea maps an address string to an area type by keyword match.
func ClassifyArea(address string) AreaType {
	lower := strings.ToLower(address)

	for _, word := range urbanKeywords {
		if strings.Contains(lower, word) {
			return AreaUrban
		}
	}
	for _, word := range suburbanKeywords {
		if strings.Contains(lower, word) {
			return AreaSuburban
		}
	}
	return AreaRural
}

// EstimateTransferTime converts a distance into a human travel time
// estimate using the area's assumed speed.
func EstimateTransferTime(distanceKm float64, area AreaType) string {
	speed, ok := areaSpeeds[area]
	if !ok {
		speed = defaultSpeedKmh
	}

	minutes := distanceKm / speed * 60

	if minutes < 1 {
		return "Less than 1 min"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d min", int(minutes))
	}
	return fmt.Sprintf("%dh %dm", int(minutes)/60, int(minutes)%60)
}
