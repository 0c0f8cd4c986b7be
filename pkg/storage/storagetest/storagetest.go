// Package storagetest holds the behaviour every storage.Driver must share,
// as reusable ginkgo specs.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ollamabridge/pkg/storage"
	"github.com/papercomputeco/ollamabridge/pkg/usage"
)

// NewRecord returns a populated record started at the given offset from a
// fixed base time.
func NewRecord(id, model string, offset time.Duration) *usage.Record {
	return &usage.Record{
		ID:               id,
		Model:            model,
		PromptTokens:     24,
		CompletionTokens: 3,
		TotalTokens:      27,
		FinishReason:     "stop",
		Streaming:        true,
		Status:           200,
		StartedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset),
		Duration:         1500 * time.Millisecond,
	}
}

// DriverBehaviour registers specs exercising a storage.Driver. newDriver is
// called before each spec and must return an empty store.
func DriverBehaviour(newDriver func() storage.Driver) {
	var (
		driver storage.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	Describe("Put and Get", func() {
		It("stores and retrieves a record", func() {
			rec := NewRecord("chat-1", "llama3", 0)
			rec.Skipped = 2
			Expect(driver.Put(ctx, rec)).To(Succeed())

			got, err := driver.Get(ctx, "chat-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal("chat-1"))
			Expect(got.Model).To(Equal("llama3"))
			Expect(got.TotalTokens).To(Equal(27))
			Expect(got.FinishReason).To(Equal("stop"))
			Expect(got.Streaming).To(BeTrue())
			Expect(got.Status).To(Equal(200))
			Expect(got.Skipped).To(Equal(2))
			Expect(got.StartedAt.Equal(rec.StartedAt)).To(BeTrue())
			Expect(got.Duration).To(Equal(rec.Duration))
		})

		It("replaces a record with the same ID", func() {
			Expect(driver.Put(ctx, NewRecord("chat-1", "a", 0))).To(Succeed())
			Expect(driver.Put(ctx, NewRecord("chat-1", "b", 0))).To(Succeed())

			got, err := driver.Get(ctx, "chat-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Model).To(Equal("b"))

			all, err := driver.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("returns NotFoundError for an unknown ID", func() {
			_, err := driver.Get(ctx, "missing")
			Expect(err).To(MatchError(storage.NotFoundError{ID: "missing"}))
		})

		It("rejects nil records", func() {
			Expect(driver.Put(ctx, nil)).To(MatchError(storage.ErrNilRecord))
		})
	})

	Describe("List", func() {
		It("returns an empty slice for an empty store", func() {
			all, err := driver.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).NotTo(BeNil())
			Expect(all).To(BeEmpty())
		})

		It("orders records newest first and honours the limit", func() {
			Expect(driver.Put(ctx, NewRecord("old", "m", 0))).To(Succeed())
			Expect(driver.Put(ctx, NewRecord("new", "m", 2*time.Minute))).To(Succeed())
			Expect(driver.Put(ctx, NewRecord("mid", "m", time.Minute))).To(Succeed())

			all, err := driver.List(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, r := range all {
				ids = append(ids, r.ID)
			}
			Expect(ids).To(Equal([]string{"new", "mid", "old"}))

			limited, err := driver.List(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(limited).To(HaveLen(2))
			Expect(limited[0].ID).To(Equal("new"))
		})
	})

	It("accepts concurrent writers", func() {
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(driver.Put(ctx, NewRecord(fmt.Sprintf("chat-%d", i), "m", time.Duration(i)*time.Second))).To(Succeed())
			}()
		}
		wg.Wait()

		all, err := driver.List(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(10))
	})
}
