// README: Rate tables and vehicle classes.
package pricing

import "strings"

// Known vehicle classes, in canonical spelling.
const (
	ClassMotorbike = "Motorbike"
	ClassCar4Seat  = "Car 4-Seat"
	ClassCar7Seat  = "Car 7-Seat"
)

var Classes = []string{ClassMotorbike, ClassCar4Seat, ClassCar7Seat}

// Rate is a per-class fare schedule in whole currency units.
type Rate struct {
	Base  float64
	PerKm float64
}

// Table maps a canonical vehicle class to its rate. Fallback prices unknown classes.
type Table struct {
	Currency string
	Rates    map[string]Rate
	Fallback Rate
}

// DefaultTable prices in VND. Unknown classes use the mid-tier (4-seat car) rate.
func DefaultTable() Table {
	car4 := Rate{Base: 20000, PerKm: 10000}
	return Table{
		Currency: "VND",
		Rates: map[string]Rate{
			ClassMotorbike: {Base: 10000, PerKm: 4000},
			ClassCar4Seat:  car4,
			ClassCar7Seat:  {Base: 25000, PerKm: 13000},
		},
		Fallback: car4,
	}
}

// CanonicalClass resolves a class name case-insensitively to its canonical spelling.
func CanonicalClass(name string) (string, bool) {
	n := strings.TrimSpace(name)
	for _, c := range Classes {
		if strings.EqualFold(c, n) {
			return c, true
		}
	}
	return "", false
}

// SameClass is the dispatch matching rule: exact, case-insensitive, no near-class matches.
func SameClass(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}
