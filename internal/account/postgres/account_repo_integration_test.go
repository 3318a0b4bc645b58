// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gamesession/internal/account"
	"github.com/holomush/gamesession/internal/account/postgres"
)

var _ = Describe("AccountRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.AccountRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewAccountRepository(testPool)
		DeferCleanup(func() {
			_, _ = testPool.Exec(context.Background(), `DELETE FROM accounts`)
		})
	})

	newAccount := func(name string, psn, rpcn uint64) *account.Account {
		now := time.Now().UTC().Truncate(time.Microsecond)
		return &account.Account{
			Username:  name,
			PSNID:     psn,
			RPCNID:    rpcn,
			Quota:     account.DefaultQuota,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	Describe("Create", func() {
		It("assigns increasing ids", func() {
			a := newAccount("Alice", 100, 0)
			b := newAccount("Bob", 0, 200)
			Expect(repo.Create(ctx, a)).To(Succeed())
			Expect(repo.Create(ctx, b)).To(Succeed())
			Expect(a.ID).To(BeNumerically(">=", account.FirstID))
			Expect(b.ID).To(BeNumerically(">", a.ID))
		})

		It("allows many accounts without a linked platform id", func() {
			Expect(repo.Create(ctx, newAccount("Alice", 0, 0))).To(Succeed())
			Expect(repo.Create(ctx, newAccount("Bob", 0, 0))).To(Succeed())
		})

		It("rejects a duplicate username", func() {
			Expect(repo.Create(ctx, newAccount("Alice", 1, 0))).To(Succeed())
			err := repo.Create(ctx, newAccount("Alice", 2, 0))
			Expect(err).To(MatchError(account.ErrConflict))
		})

		It("rejects a duplicate psn id", func() {
			Expect(repo.Create(ctx, newAccount("Alice", 1, 0))).To(Succeed())
			err := repo.Create(ctx, newAccount("Bob", 1, 0))
			Expect(err).To(MatchError(account.ErrConflict))
		})
	})

	Describe("lookups", func() {
		It("finds an account by each identity", func() {
			a := newAccount("Alice", ^uint64(0), 42)
			Expect(repo.Create(ctx, a)).To(Succeed())

			byPSN, err := repo.GetByPSNID(ctx, ^uint64(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(byPSN.ID).To(Equal(a.ID))

			byRPCN, err := repo.GetByRPCNID(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(byRPCN.Username).To(Equal("Alice"))

			byName, err := repo.GetByUsername(ctx, "Alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.PSNID).To(Equal(^uint64(0)))
			Expect(byName.Quota).To(Equal(account.DefaultQuota))
		})

		It("reports missing accounts as not found", func() {
			_, err := repo.GetByUsername(ctx, "Nobody")
			Expect(err).To(MatchError(account.ErrNotFound))
			_, err = repo.GetByPSNID(ctx, 0)
			Expect(err).To(MatchError(account.ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("persists renames and links", func() {
			a := newAccount("Alice", 100, 0)
			a.AllowOppositePlatform = true
			Expect(repo.Create(ctx, a)).To(Succeed())

			a.Username = "Alicia"
			a.RPCNID = 7
			a.AllowOppositePlatform = false
			a.PlayedCompanion = true
			Expect(repo.Update(ctx, a)).To(Succeed())

			got, err := repo.GetByRPCNID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Username).To(Equal("Alicia"))
			Expect(got.PSNID).To(Equal(uint64(100)))
			Expect(got.AllowOppositePlatform).To(BeFalse())
			Expect(got.PlayedCompanion).To(BeTrue())
		})

		It("reports a missing row", func() {
			err := repo.Update(ctx, &account.Account{ID: 999999, Username: "Ghost"})
			Expect(err).To(MatchError(account.ErrNotFound))
		})
	})
})
