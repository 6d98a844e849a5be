package provider

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ExtractURLs", func() {
	DescribeTable("collects http URLs",
		func(doc string, expected []string) {
			Expect(ExtractURLs(json.RawMessage(doc))).To(Equal(expected))
		},
		Entry("bare string", `"https://a.test/x.png"`, []string{"https://a.test/x.png"}),
		Entry("array", `["https://a.test/1.png","https://a.test/2.png"]`, []string{"https://a.test/1.png", "https://a.test/2.png"}),
		Entry("nested objects", `{"images":[{"url":"https://a.test/1.png","content_type":"image/png"}],"seed":1}`, []string{"https://a.test/1.png"}),
		Entry("keys visited alphabetically", `{"z":"https://a.test/z","a":"https://a.test/a"}`, []string{"https://a.test/a", "https://a.test/z"}),
		Entry("duplicates dropped", `["https://a.test/1.png","https://a.test/1.png"]`, []string{"https://a.test/1.png"}),
		Entry("non-URL strings ignored", `{"prompt":"draw https","path":"/tmp/x"}`, nil),
		Entry("null", `null`, nil),
		Entry("invalid JSON", `{`, nil),
		Entry("empty", ``, nil),
	)
})

var _ = Describe("errorText", func() {
	DescribeTable("flattens error shapes",
		func(raw, expected string) {
			Expect(errorText(json.RawMessage(raw))).To(Equal(expected))
		},
		Entry("string", `"boom"`, "boom"),
		Entry("message object", `{"message":"quota exceeded"}`, "quota exceeded"),
		Entry("detail object", `{"detail":"bad input"}`, `"bad input"`),
		Entry("empty object", `{}`, ""),
		Entry("null", `null`, ""),
		Entry("number", `42`, "42"),
	)
})
