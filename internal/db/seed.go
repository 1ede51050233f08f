package db

import "peakcast/internal/types"

// DefaultResorts returns the built-in resort list used to seed an empty
// database. Elevations are meters above sea level; coordinates point at the
// upper mountain rather than the village so grid sampling lands on terrain.
func DefaultResorts() []types.Resort {
	return []types.Resort{
		{Slug: "jackson-hole", Name: "Jackson Hole", State: "WY", Country: "US",
			Lat: 43.5875, Lon: -110.8279, BaseElevationM: 1924, SummitElevationM: 3185},
		{Slug: "big-sky", Name: "Big Sky", State: "MT", Country: "US",
			Lat: 45.2862, Lon: -111.4015, BaseElevationM: 2286, SummitElevationM: 3403},
		{Slug: "palisades-tahoe", Name: "Palisades Tahoe", State: "CA", Country: "US",
			Lat: 39.1969, Lon: -120.2358, BaseElevationM: 1890, SummitElevationM: 2760},
		{Slug: "mammoth-mountain", Name: "Mammoth Mountain", State: "CA", Country: "US",
			Lat: 37.6308, Lon: -119.0326, BaseElevationM: 2424, SummitElevationM: 3369},
		{Slug: "vail", Name: "Vail", State: "CO", Country: "US",
			Lat: 39.6061, Lon: -106.3550, BaseElevationM: 2476, SummitElevationM: 3527},
		{Slug: "aspen-snowmass", Name: "Aspen Snowmass", State: "CO", Country: "US",
			Lat: 39.2097, Lon: -106.9498, BaseElevationM: 2473, SummitElevationM: 3813},
		{Slug: "breckenridge", Name: "Breckenridge", State: "CO", Country: "US",
			Lat: 39.4817, Lon: -106.0384, BaseElevationM: 2926, SummitElevationM: 3914},
		{Slug: "telluride", Name: "Telluride", State: "CO", Country: "US",
			Lat: 37.9365, Lon: -107.8461, BaseElevationM: 2659, SummitElevationM: 3735},
		{Slug: "steamboat", Name: "Steamboat", State: "CO", Country: "US",
			Lat: 40.4572, Lon: -106.8045, BaseElevationM: 2103, SummitElevationM: 3221},
		{Slug: "alta", Name: "Alta", State: "UT", Country: "US",
			Lat: 40.5884, Lon: -111.6386, BaseElevationM: 2600, SummitElevationM: 3216},
		{Slug: "snowbird", Name: "Snowbird", State: "UT", Country: "US",
			Lat: 40.5830, Lon: -111.6508, BaseElevationM: 2365, SummitElevationM: 3353},
		{Slug: "park-city", Name: "Park City", State: "UT", Country: "US",
			Lat: 40.6514, Lon: -111.5080, BaseElevationM: 2080, SummitElevationM: 3049},
		{Slug: "taos", Name: "Taos Ski Valley", State: "NM", Country: "US",
			Lat: 36.5958, Lon: -105.4542, BaseElevationM: 2805, SummitElevationM: 3804},
		{Slug: "crystal-mountain", Name: "Crystal Mountain", State: "WA", Country: "US",
			Lat: 46.9282, Lon: -121.5045, BaseElevationM: 1341, SummitElevationM: 2133},
		{Slug: "mt-bachelor", Name: "Mt. Bachelor", State: "OR", Country: "US",
			Lat: 43.9793, Lon: -121.6885, BaseElevationM: 1756, SummitElevationM: 2764},
		{Slug: "stowe", Name: "Stowe", State: "VT", Country: "US",
			Lat: 44.5303, Lon: -72.7814, BaseElevationM: 390, SummitElevationM: 1339},
		{Slug: "killington", Name: "Killington", State: "VT", Country: "US",
			Lat: 43.6045, Lon: -72.8201, BaseElevationM: 354, SummitElevationM: 1289},
		{Slug: "whistler-blackcomb", Name: "Whistler Blackcomb", State: "BC", Country: "CA",
			Lat: 50.0593, Lon: -122.9486, BaseElevationM: 675, SummitElevationM: 2284},
		{Slug: "revelstoke", Name: "Revelstoke", State: "BC", Country: "CA",
			Lat: 50.9585, Lon: -118.1636, BaseElevationM: 512, SummitElevationM: 2225},
		{Slug: "banff-sunshine", Name: "Banff Sunshine", State: "AB", Country: "CA",
			Lat: 51.0784, Lon: -115.7788, BaseElevationM: 1660, SummitElevationM: 2730},
	}
}
