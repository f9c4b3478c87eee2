package catalog

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/aims-checkout/internal/domain/product"
)

// OpenProducts reads a JSON product array from path. Files ending in .gz are
// decompressed.
func OpenProducts(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return ReadProducts(r)
}

// ReadProducts decodes a JSON array of products. Weight may be a number or a
// decimal string. Unknown fields are ignored.
func ReadProducts(r io.Reader) ([]product.Product, error) {
	var out []product.Product
	d := jx.Decode(r, 64<<10)
	err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product #%d", len(out))
		}
		if err := validateProduct(p); err != nil {
			return errors.Wrapf(err, "product #%d", len(out))
		}
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products")
	}
	return out, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Int64()
		case "title":
			p.Title, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "type":
			p.Type, err = d.Str()
		case "price":
			p.Price, err = d.Int64()
		case "quantity":
			p.Quantity, err = d.Int()
		case "weight":
			p.Weight, err = decodeDecimal(d)
		case "rush_supported":
			p.RushSupported, err = d.Bool()
		case "image_url":
			p.ImageURL, err = d.Str()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return p, err
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	}
	return decimal.NewFromString(raw)
}

func validateProduct(p product.Product) error {
	switch {
	case p.ID <= 0:
		return errors.Errorf("id %d must be positive", p.ID)
	case strings.TrimSpace(p.Title) == "":
		return errors.New("title is required")
	case p.Price < 0:
		return errors.Errorf("price %d is negative", p.Price)
	case p.Quantity < 0:
		return errors.Errorf("quantity %d is negative", p.Quantity)
	case p.Weight.IsNegative():
		return errors.Errorf("weight %s is negative", p.Weight)
	}
	return nil
}
