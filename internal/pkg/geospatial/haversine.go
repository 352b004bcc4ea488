package geospatial

import "math"

const (
	earthRadiusKm = 6371.0

	metersPerDegreeLat = 111320.0
)

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// DegreeDistance is the planar distance between two points measured in
// degrees of latitude/longitude. It is not geodesic.
func DegreeDistance(lat1, lng1, lat2, lng2 float64) float64 {
	return math.Hypot(lat2-lat1, lng2-lng1)
}

// BoundingBox returns a bounding box around a point with the given radius in meters.
func BoundingBox(lat, lng, radiusMeters float64) (minLat, minLng, maxLat, maxLng float64) {
	latDelta := radiusMeters / metersPerDegreeLat
	lngDelta := radiusMeters / (metersPerDegreeLat * math.Cos(toRad(lat)))

	return lat - latDelta, lng - lngDelta, lat + latDelta, lng + lngDelta
}

const (
	webMercatorTileSize = 256.0
	minZoom             = 0
	maxZoom             = 19
)

// ZoomForBounds returns the largest integer zoom at which the box fits into a
// viewport of widthPx x heightPx after padding, capped at maxZoomCap.
func ZoomForBounds(minLat, minLng, maxLat, maxLng float64, widthPx, heightPx, paddingPx, maxZoomCap int) int {
	usableW := float64(widthPx - 2*paddingPx)
	usableH := float64(heightPx - 2*paddingPx)
	if usableW <= 0 || usableH <= 0 {
		return minZoom
	}

	lngSpan := math.Abs(maxLng-minLng) / 360.0
	latSpan := math.Abs(mercatorY(maxLat)-mercatorY(minLat)) / (2 * math.Pi)

	zoom := float64(maxZoomCap)
	if lngSpan > 0 {
		zoom = math.Min(zoom, math.Log2(usableW/(webMercatorTileSize*lngSpan)))
	}
	if latSpan > 0 {
		zoom = math.Min(zoom, math.Log2(usableH/(webMercatorTileSize*latSpan)))
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return minZoom
	}

	z := int(math.Floor(zoom))
	if z < minZoom {
		return minZoom
	}
	if z > maxZoom {
		return maxZoom
	}
	return z
}

func mercatorY(lat float64) float64 {
	return math.Log(math.Tan(math.Pi/4 + toRad(lat)/2))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
