package scanning

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// encodePNG renders a w x h test image as PNG bytes.
func encodePNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 8 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Normalizer", func() {
	var (
		normalizer  *Normalizer
		input       []byte
		contentType string
		output      []byte
		mimeType    string
		err         error
	)

	BeforeEach(func() {
		normalizer = NewNormalizer(1024, 85)
	})

	JustBeforeEach(func() {
		output, mimeType, err = normalizer.Normalize(input, contentType)
	})

	When("the image is larger than the edge cap", func() {
		BeforeEach(func() {
			input = encodePNG(2048, 1024)
			contentType = "image/png"
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should produce a JPEG", func() {
			Expect(mimeType).To(Equal("image/jpeg"))
			img, format, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(format).To(Equal("jpeg"))
			Expect(img).NotTo(BeNil())
		})

		It("should cap the longest edge and preserve aspect ratio", func() {
			img, _, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(1024))
			Expect(img.Bounds().Dy()).To(Equal(512))
		})
	})

	When("the image is already within bounds", func() {
		BeforeEach(func() {
			input = encodePNG(200, 100)
			contentType = "image/png"
		})

		It("should keep the original dimensions", func() {
			Expect(err).NotTo(HaveOccurred())
			img, _, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(200))
			Expect(img.Bounds().Dy()).To(Equal(100))
		})
	})

	When("the portrait edge is the longest", func() {
		BeforeEach(func() {
			input = encodePNG(512, 2048)
			contentType = "image/png"
		})

		It("should cap the height", func() {
			Expect(err).NotTo(HaveOccurred())
			img, _, decodeErr := image.Decode(bytes.NewReader(output))
			Expect(decodeErr).NotTo(HaveOccurred())
			Expect(img.Bounds().Dy()).To(Equal(1024))
			Expect(img.Bounds().Dx()).To(Equal(256))
		})
	})

	When("the input is not a readable image", func() {
		BeforeEach(func() {
			input = []byte("definitely not an image")
			contentType = "image/jpeg"
		})

		It("should return an image decode error", func() {
			Expect(errors.Is(err, ErrImageDecode)).To(BeTrue())
		})
	})
})

var _ = Describe("isHEICFormat", func() {
	It("detects the heic brand in an ftyp box", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
		data = append(data, make([]byte, 8)...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("rejects short inputs", func() {
		Expect(isHEICFormat([]byte("tiny"))).To(BeFalse())
	})

	It("rejects PNG data", func() {
		Expect(isHEICFormat(encodePNG(16, 16))).To(BeFalse())
	})
})

var _ = Describe("isHEICMimeType", func() {
	It("matches heic and heif variants", func() {
		Expect(isHEICMimeType("image/heic")).To(BeTrue())
		Expect(isHEICMimeType("image/heif")).To(BeTrue())
	})

	It("does not match other image types", func() {
		Expect(isHEICMimeType("image/jpeg")).To(BeFalse())
	})
})
