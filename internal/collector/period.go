package collector

import "fmt"

// Category is one of the procurement business divisions the provider
// exposes as separate operations.
type Category string

const (
	CategoryGoods        Category = "goods"
	CategoryConstruction Category = "construction"
	CategoryServices     Category = "services"
	CategoryForeign      Category = "foreign"
)

// DefaultCategories is the fixed collection order: categories form the
// outer loop, years ascend inside each category sweep.
var DefaultCategories = []Category{
	CategoryGoods,
	CategoryConstruction,
	CategoryServices,
	CategoryForeign,
}

// Period is one (category, year, month) unit of work.
type Period struct {
	Category Category
	Year     int
	Month    int
}

func (p Period) String() string {
	return fmt.Sprintf("%s %d-%02d", p.Category, p.Year, p.Month)
}

// Next returns the successor period in the fixed total order: months 1..12
// within a category, then the next category in order, wrapping to the first
// category with the following year. It is a pure function; detecting the end
// of the configured range is the caller's job.
func (p Period) Next(order []Category) Period {
	if p.Month < 12 {
		return Period{Category: p.Category, Year: p.Year, Month: p.Month + 1}
	}

	idx := categoryIndex(order, p.Category)
	if idx >= 0 && idx < len(order)-1 {
		return Period{Category: order[idx+1], Year: p.Year, Month: 1}
	}
	return Period{Category: order[0], Year: p.Year + 1, Month: 1}
}

func categoryIndex(order []Category, c Category) int {
	for i, cat := range order {
		if cat == c {
			return i
		}
	}
	return -1
}

// ValidCategory reports whether c is part of the configured enumeration.
func ValidCategory(order []Category, c Category) bool {
	return categoryIndex(order, c) >= 0
}
