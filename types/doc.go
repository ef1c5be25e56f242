// Package types holds small value types shared by the repository and database
// packages: enum contracts, query filters and pagination.
package types
