package pagination

// Pagination is the offset-based pagination contract used by list
// endpoints. Results are ordered newest-first, so skip/limit stay stable
// under an append-only write pattern.
type Pagination struct {
	Skip  int `form:"skip" validate:"gte=0"`
	Limit int `form:"limit,default=50" validate:"gte=1,lte=250"` // Min 1, Max 250
}

// Normalize clamps out-of-range values to the deployment bounds.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 250 {
		p.Limit = 250
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}
