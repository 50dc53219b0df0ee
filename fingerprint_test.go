package loner_test

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"

	"github.com/VsevolodSauta/loner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Fingerprint", func() {
	It("should match the resque-loner digest of the canonical JSON", func() {
		fingerprint, err := loner.Fingerprint("SendEmail", []any{"a@x.com"})
		Expect(err).NotTo(HaveOccurred())
		Expect(fingerprint).To(Equal("8b6c886906c0ef4006f89ce0604e815f"))
	})

	It("should encode map keys sorted", func() {
		fingerprint, err := loner.Fingerprint("Report", []any{map[string]any{"b": 2, "a": 1}, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(fingerprint).To(Equal("49d3a319962b47d7a4043c5ce1d34412"))
	})

	It("should be deterministic", func() {
		first, err := loner.Fingerprint("SendEmail", []any{"a@x.com", 1, true})
		Expect(err).NotTo(HaveOccurred())
		second, err := loner.Fingerprint("SendEmail", []any{"a@x.com", 1, true})
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(second))
		Expect(first).To(MatchRegexp("^[0-9a-f]{32}$"))
	})

	It("should depend on argument order", func() {
		ab, err := loner.Fingerprint("Pair", []any{"a", "b"})
		Expect(err).NotTo(HaveOccurred())
		ba, err := loner.Fingerprint("Pair", []any{"b", "a"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ab).NotTo(Equal(ba))
	})

	It("should depend on the type name", func() {
		a, err := loner.Fingerprint("SendEmail", []any{"a@x.com"})
		Expect(err).NotTo(HaveOccurred())
		b, err := loner.Fingerprint("SendSMS", []any{"a@x.com"})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(Equal(b))
	})

	It("should treat nil and empty arguments alike", func() {
		nilArgs, err := loner.Fingerprint("Tick", nil)
		Expect(err).NotTo(HaveOccurred())
		emptyArgs, err := loner.Fingerprint("Tick", []any{})
		Expect(err).NotTo(HaveOccurred())
		Expect(nilArgs).To(Equal(emptyArgs))
	})

	It("should not HTML-escape arguments", func() {
		fingerprint, err := loner.Fingerprint("Render", []any{"<a&b>"})
		Expect(err).NotTo(HaveOccurred())

		sum := md5.Sum([]byte(`{"class":"Render","args":["<a&b>"]}`))
		Expect(fingerprint).To(Equal(hex.EncodeToString(sum[:])))
	})

	It("should fingerprint a struct like its decoded map", func() {
		type recipient struct {
			To   string `json:"to"`
			From string `json:"from"`
		}
		fromStruct, err := loner.Fingerprint("SendEmail", []any{recipient{To: "a@x.com", From: "b@x.com"}})
		Expect(err).NotTo(HaveOccurred())
		fromMap, err := loner.Fingerprint("SendEmail", []any{map[string]any{"to": "a@x.com", "from": "b@x.com"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(fromStruct).To(Equal(fromMap))

		sum := md5.Sum([]byte(`{"class":"SendEmail","args":[{"from":"b@x.com","to":"a@x.com"}]}`))
		Expect(fromStruct).To(Equal(hex.EncodeToString(sum[:])))
	})

	It("should fingerprint equal numbers alike", func() {
		literal, err := loner.Fingerprint("Cooldown", []any{json.Number("1.0"), []any{json.Number("2.50")}})
		Expect(err).NotTo(HaveOccurred())
		native, err := loner.Fingerprint("Cooldown", []any{1.0, []float64{2.5}})
		Expect(err).NotTo(HaveOccurred())
		Expect(literal).To(Equal(native))
	})

	It("should keep large integers exact", func() {
		a, err := loner.Fingerprint("Big", []any{json.Number("9007199254740993")})
		Expect(err).NotTo(HaveOccurred())
		b, err := loner.Fingerprint("Big", []any{json.Number("9007199254740992")})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).NotTo(Equal(b))
	})

	It("should reject arguments that cannot be encoded", func() {
		_, err := loner.Fingerprint("Bad", []any{math.NaN()})
		Expect(errors.Is(err, loner.ErrUnencodableArgs)).To(BeTrue())

		_, err = loner.Fingerprint("Bad", []any{make(chan int)})
		Expect(errors.Is(err, loner.ErrUnencodableArgs)).To(BeTrue())
	})
})

var _ = Describe("LockKey", func() {
	It("should place the fingerprint under the queue prefix", func() {
		Expect(loner.QueueLockPrefix("emails")).To(Equal("loners:queue:emails:job:"))
		Expect(loner.LockKey("emails", "abc")).To(Equal("loners:queue:emails:job:abc"))
	})
})

var _ = Describe("CanonicalArgs", func() {
	It("should return arguments in decoded JSON form", func() {
		type point struct {
			X int `json:"x"`
		}
		args, err := loner.CanonicalArgs([]any{point{X: 1}, []string{"a"}, 2.0})
		Expect(err).NotTo(HaveOccurred())
		Expect(args).To(Equal([]any{
			map[string]any{"x": json.Number("1")},
			[]any{"a"},
			json.Number("2"),
		}))
	})

	It("should return an empty list for nil arguments", func() {
		args, err := loner.CanonicalArgs(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(args).To(BeEmpty())
		Expect(args).NotTo(BeNil())
	})
})
