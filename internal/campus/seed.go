package campus

// DefaultCampus builds the standard campus map used by cmd/server.
// Administrative tooling owns location CRUD; the engine only reads.
func DefaultCampus() *Graph {
	g := NewGraph()
	for _, loc := range []Location{
		{Name: "Library", Lat: 40.10455, Lon: -88.22705, Category: CategoryAcademic},
		{Name: "Student Union", Lat: 40.10530, Lon: -88.22930, Category: CategoryHub},
		{Name: "North Quad", Lat: 40.10810, Lon: -88.22710, Category: CategoryLandmark},
		{Name: "Engineering Hall", Lat: 40.11065, Lon: -88.22720, Category: CategoryAcademic},
		{Name: "West Dorms", Lat: 40.10390, Lon: -88.23480, Category: CategoryResidential},
		{Name: "East Dorms", Lat: 40.10370, Lon: -88.22060, Category: CategoryResidential},
		{Name: "Dining Commons", Lat: 40.10280, Lon: -88.23110, Category: CategoryDining},
		{Name: "Recreation Center", Lat: 40.10120, Lon: -88.23590, Category: CategoryRecreation},
		{Name: "Stadium", Lat: 40.09920, Lon: -88.23610, Category: CategoryRecreation},
		{Name: "Transit Plaza", Lat: 40.10640, Lon: -88.22530, Category: CategoryHub},
	} {
		g.AddLocation(loc)
	}
	for _, e := range []struct {
		a, b    string
		minutes int
	}{
		{"Library", "Student Union", 2},
		{"Library", "Transit Plaza", 3},
		{"Student Union", "North Quad", 3},
		{"Student Union", "Dining Commons", 2},
		{"North Quad", "Engineering Hall", 2},
		{"North Quad", "Transit Plaza", 2},
		{"Transit Plaza", "East Dorms", 4},
		{"Dining Commons", "West Dorms", 2},
		{"West Dorms", "Recreation Center", 3},
		{"Recreation Center", "Stadium", 2},
		{"Dining Commons", "Recreation Center", 4},
		{"Library", "East Dorms", 5},
	} {
		// seed graph is symmetric; asymmetric edges stay possible via AddEdge
		if err := g.AddPath(e.a, e.b, e.minutes); err != nil {
			panic(err)
		}
	}
	return g
}
