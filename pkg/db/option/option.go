package option

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hrplane/pkg/db/pagination"
)

// QueryOption mutates a gorm query before it is executed by the repository.
type QueryOption func(*gorm.DB) *gorm.DB

// QuerySortBy describes an ORDER BY clause. Allow whitelists sortable
// columns so request input can never inject arbitrary SQL.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			column = "created_at"
		}

		order := "DESC"
		if strings.EqualFold(sort.OrderBy, "asc") {
			order = "ASC"
		}

		return tx.Order(column + " " + order)
	}
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE on every
// query inside a transaction.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithLockingUpdate applies row-level locking to a single query.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// ApplyPagination applies offset/limit pagination.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if p.Skip > 0 {
			tx = tx.Offset(p.Skip)
		}
		if p.Limit > 0 {
			tx = tx.Limit(p.Limit)
		}
		return tx
	}
}
