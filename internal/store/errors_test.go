package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("mapError", func() {
	It("returns nil for nil", func() {
		Expect(mapError(nil, "generation", 1)).To(BeNil())
	})

	It("maps missing rows to ErrNotFound", func() {
		err := mapError(fmt.Errorf("scan: %w", pgx.ErrNoRows), "generation", int64(7))
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		Expect(err.Error()).To(Equal("generation 7: not found"))
	})

	It("maps unique violations to ErrConflict", func() {
		err := mapError(&pgconn.PgError{Code: "23505"}, "generation", 1)
		Expect(errors.Is(err, ErrConflict)).To(BeTrue())
	})

	It("maps foreign key violations to ErrNotFound", func() {
		err := mapError(&pgconn.PgError{Code: "23503"}, "notification", 1)
		Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
	})

	It("passes context errors through", func() {
		err := mapError(context.DeadlineExceeded, "generation", 1)
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(errors.Is(err, ErrNotFound)).To(BeFalse())
	})
})
