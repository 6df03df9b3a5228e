package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/nt4/protocol"
)

var _ = Describe("Type", func() {
	It("has fifteen types with distinct names", func() {
		names := map[string]bool{}
		for _, t := range protocol.Types() {
			names[t.String()] = true
		}

		Expect(protocol.Types()).To(HaveLen(15))
		Expect(names).To(HaveLen(15))
	})

	Describe("FromText()", func() {
		It("round trips every type", func() {
			for _, t := range protocol.Types() {
				parsed, err := protocol.FromText(t.String())
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(t))
			}
		})

		It("is case sensitive", func() {
			_, err := protocol.FromText("Double")
			Expect(err).To(HaveOccurred())
		})

		It("keeps the offending string in the error", func() {
			for _, s := range []string{"", "doubles", "int []", "bool", "string[][]"} {
				_, err := protocol.FromText(s)
				Expect(errors.Is(err, protocol.ErrInvalidMessageString)).To(BeTrue())

				var perr *protocol.Error
				Expect(errors.As(err, &perr)).To(BeTrue())
				Expect(perr.Text).To(Equal(s))
			}
		})
	})

	Describe("WireCode()", func() {
		It("matches the protocol table", func() {
			expected := map[protocol.Type]uint8{
				protocol.TypeBoolean:      0,
				protocol.TypeDouble:       1,
				protocol.TypeInt:          2,
				protocol.TypeFloat:        3,
				protocol.TypeString:       4,
				protocol.TypeJSON:         4,
				protocol.TypeRaw:          5,
				protocol.TypeRPC:          5,
				protocol.TypeMsgPack:      5,
				protocol.TypeProtoBuf:     5,
				protocol.TypeBooleanArray: 16,
				protocol.TypeDoubleArray:  17,
				protocol.TypeIntArray:     18,
				protocol.TypeFloatArray:   19,
				protocol.TypeStringArray:  20,
			}

			for t, code := range expected {
				Expect(t.WireCode()).To(Equal(code), t.String())
			}
		})
	})

	Describe("FromWireCode()", func() {
		It("maps aliased codes to a single canonical type", func() {
			for _, t := range []protocol.Type{protocol.TypeString, protocol.TypeJSON} {
				parsed, err := protocol.FromWireCode(uint64(t.WireCode()))
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(protocol.TypeString))
			}

			for _, t := range []protocol.Type{protocol.TypeRaw, protocol.TypeRPC, protocol.TypeMsgPack, protocol.TypeProtoBuf} {
				parsed, err := protocol.FromWireCode(uint64(t.WireCode()))
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(protocol.TypeRaw))
			}
		})

		It("does not round trip the aliased types", func() {
			parsed, err := protocol.FromWireCode(uint64(protocol.TypeJSON.WireCode()))
			Expect(err).To(Succeed())
			Expect(parsed).NotTo(Equal(protocol.TypeJSON))

			parsed, err = protocol.FromWireCode(uint64(protocol.TypeProtoBuf.WireCode()))
			Expect(err).To(Succeed())
			Expect(parsed).NotTo(Equal(protocol.TypeProtoBuf))
		})

		It("round trips the unaliased types", func() {
			for _, t := range protocol.Types() {
				switch t {
				case protocol.TypeJSON, protocol.TypeRPC, protocol.TypeMsgPack, protocol.TypeProtoBuf:
					continue
				}

				parsed, err := protocol.FromWireCode(uint64(t.WireCode()))
				Expect(err).To(Succeed())
				Expect(parsed).To(Equal(t))
			}
		})

		It("rejects every code outside the table", func() {
			valid := map[uint64]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 16: true, 17: true, 18: true, 19: true, 20: true}

			for code := uint64(0); code < 300; code++ {
				_, err := protocol.FromWireCode(code)
				if valid[code] {
					Expect(err).To(Succeed())
					continue
				}

				Expect(errors.Is(err, protocol.ErrInvalidMessageNumber)).To(BeTrue())

				var perr *protocol.Error
				Expect(errors.As(err, &perr)).To(BeTrue())
				Expect(perr.Number).To(Equal(code))
			}
		})
	})

	It("marshals as its canonical name", func() {
		text, err := protocol.TypeFloatArray.MarshalText()
		Expect(err).To(Succeed())
		Expect(string(text)).To(Equal("float[]"))

		var t protocol.Type
		Expect(t.UnmarshalText([]byte("msgpack"))).To(Succeed())
		Expect(t).To(Equal(protocol.TypeMsgPack))
	})
})
