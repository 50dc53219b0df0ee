package loner_test

import (
	"encoding/json"
	"errors"

	"github.com/VsevolodSauta/loner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("JSONCodec", func() {
	codec := loner.JSONCodec{}

	It("should encode jobs in the resque payload layout", func() {
		payload, err := codec.Encode(loner.NewJob("SendEmail", "a@x.com"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(payload)).To(Equal(`{"class":"SendEmail","args":["a@x.com"]}`))
	})

	It("should encode missing arguments as an empty list", func() {
		payload, err := codec.Encode(loner.Job{Class: "Tick"})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(payload)).To(Equal(`{"class":"Tick","args":[]}`))
	})

	It("should refuse a job without a class", func() {
		_, err := codec.Encode(loner.Job{})
		Expect(err).To(HaveOccurred())
	})

	It("should decode numbers without losing precision", func() {
		job, err := codec.Decode([]byte(`{"class":"Report","args":[9007199254740993,"x"]}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Class).To(Equal("Report"))
		Expect(job.Args).To(Equal([]any{json.Number("9007199254740993"), "x"}))
	})

	It("should decode to the fingerprint of the original job", func() {
		original := loner.NewJob("Report", map[string]any{"a": 1, "b": 2}, 3)
		payload, err := codec.Encode(original)
		Expect(err).NotTo(HaveOccurred())
		decoded, err := codec.Decode(payload)
		Expect(err).NotTo(HaveOccurred())

		want, err := loner.Fingerprint(original.Class, original.Args)
		Expect(err).NotTo(HaveOccurred())
		got, err := loner.Fingerprint(decoded.Class, decoded.Args)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
	})

	It("should ignore extra payload fields", func() {
		job, err := codec.Decode([]byte(`{"class":"SendEmail","args":[],"queue":"emails"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Args).To(BeEmpty())
	})

	It("should report malformed payloads", func() {
		for _, payload := range []string{`not json`, `{"args":[1]}`, `{"class":"  "}`, `{"class":1}`} {
			_, err := codec.Decode([]byte(payload))
			Expect(errors.Is(err, loner.ErrMalformedPayload)).To(BeTrue(), "payload %s", payload)
		}
	})
})
