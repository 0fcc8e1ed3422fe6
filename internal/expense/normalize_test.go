package expense

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("StripReasoning", func() {
	DescribeTable("answers",
		func(raw, want string) {
			Expect(StripReasoning(raw)).To(Equal(want))
		},
		Entry("plain answer", "  Food \n", "Food"),
		Entry("reasoning block", "<think>groceries?</think>Food", "Food"),
		Entry("unopened block", "<reasoning>blah</think> $12.50", "$12.50"),
		Entry("only the first delimiter counts", "a</think>b</think>c", "b</think>c"),
		Entry("nothing after delimiter", "thinking...</think>", ""),
		Entry("empty", "", ""),
	)

	It("is idempotent on clean input", func() {
		Expect(StripReasoning(StripReasoning("Trader Joe's"))).To(Equal("Trader Joe's"))
	})
})

var _ = Describe("NormalizePrice", func() {
	DescribeTable("valid prices",
		func(raw, want string) {
			amount, err := NormalizePrice(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(amount.Equal(decimal.RequireFromString(want))).To(BeTrue())
		},
		Entry("digits", "12.50", "12.50"),
		Entry("integer", "7", "7"),
		Entry("dollar sign", "$12.50", "12.50"),
		Entry("euro sign with space", "€ 3.99", "3.99"),
		Entry("reasoning prefix", "<think>sum is 12.5</think> $12.50", "12.50"),
		Entry("surrounding whitespace", "\n 0.99 \n", "0.99"),
	)

	DescribeTable("invalid prices",
		func(raw string) {
			_, err := NormalizePrice(raw)
			Expect(err).To(MatchError(ErrNormalization))
		},
		Entry("negative", "-5"),
		Entry("words", "twelve"),
		Entry("thousands separator", "1,200.00"),
		Entry("trailing text", "12.50 USD"),
		Entry("two currency symbols", "$$12"),
		Entry("dangling decimal point", "12."),
		Entry("empty", ""),
	)

	It("is idempotent on clean input", func() {
		first, err := NormalizePrice("$12.50")
		Expect(err).NotTo(HaveOccurred())
		second, err := NormalizePrice(first.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Equal(first)).To(BeTrue())
	})
})

var _ = Describe("NormalizeText", func() {
	It("should strip reasoning and whitespace", func() {
		Expect(NormalizeText("<think>x</think>\n  Trader Joe's ")).To(Equal("Trader Joe's"))
	})
})
