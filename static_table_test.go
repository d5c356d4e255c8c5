package qpack

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StaticTable", func() {
	It("has 99 entries", func() {
		Expect(staticTableEntries).To(HaveLen(99))
	})

	It("has the entries the protocol pins to fixed indices", func() {
		Expect(staticTableEntries[0]).To(Equal(HeaderField{Name: ":authority"}))
		Expect(staticTableEntries[1]).To(Equal(HeaderField{Name: ":path", Value: "/"}))
		Expect(staticTableEntries[17]).To(Equal(HeaderField{Name: ":method", Value: "GET"}))
		Expect(staticTableEntries[25]).To(Equal(HeaderField{Name: ":status", Value: "200"}))
		Expect(staticTableEntries[49]).To(Equal(HeaderField{Name: "content-type", Value: "image/jpeg"}))
		Expect(staticTableEntries[82]).To(Equal(HeaderField{Name: "access-control-request-method", Value: "post"}))
		Expect(staticTableEntries[98]).To(Equal(HeaderField{Name: "x-frame-options", Value: "sameorigin"}))
	})

	It("verifies that encoderMap has a value for every staticTableEntries entry", func() {
		for _, hf := range staticTableEntries {
			iv, ok := encoderMap[hf.Name]
			Expect(ok).To(BeTrue())
			if len(hf.Value) > 0 {
				Expect(staticTableEntries[iv.values[hf.Value]]).To(Equal(hf))
			}
		}
	})

	It("verifies that staticTableEntries has a value for every encoderMap entry", func() {
		for name, indexAndVal := range encoderMap {
			Expect(staticTableEntries[indexAndVal.idx].Name).To(Equal(name))
			for value, id := range indexAndVal.values {
				Expect(staticTableEntries[id].Name).To(Equal(name))
				Expect(staticTableEntries[id].Value).To(Equal(value))
			}
		}
	})

	It("uses the lowest static table index as the name reference", func() {
		Expect(encoderMap[":method"].idx).To(Equal(uint8(15)))
		Expect(encoderMap["content-type"].idx).To(Equal(uint8(44)))
		Expect(encoderMap["cookie"].idx).To(Equal(uint8(5)))
	})
})
