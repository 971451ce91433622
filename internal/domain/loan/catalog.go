package loan

// Category is the product line a loan is requested under
type Category string

const (
	CategoryPersonal    Category = "personal"
	CategoryBusiness    Category = "business"
	CategoryAgriculture Category = "agriculture"
	CategoryEducation   Category = "education"
)

// Limits is the accepted principal range for a category
type Limits struct {
	MinAmount int64
	MaxAmount int64
}

// Catalog holds the configured amount range of every category
type Catalog map[Category]Limits

// DefaultCatalog returns the standard product ranges
func DefaultCatalog() Catalog {
	return Catalog{
		CategoryPersonal:    {MinAmount: 10000, MaxAmount: 500000},
		CategoryBusiness:    {MinAmount: 50000, MaxAmount: 2000000},
		CategoryAgriculture: {MinAmount: 25000, MaxAmount: 1000000},
		CategoryEducation:   {MinAmount: 50000, MaxAmount: 1500000},
	}
}

// Limits returns the range for c
func (c Catalog) Limits(category Category) (Limits, bool) {
	l, ok := c[category]
	return l, ok
}
