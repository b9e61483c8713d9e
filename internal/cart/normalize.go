package cart

import (
	"fmt"
	"reflect"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

var hundred = decimal.NewFromInt(100)

// RawProduct is the catalog product as the storefront receives it. Pricing
// fields are optional because the variant usually carries its own.
type RawProduct struct {
	ID              ID                  `json:"id" validate:"required"`
	Name            string              `json:"name" validate:"required"`
	SKU             string              `json:"sku"`
	ProductImg      string              `json:"product_img"`
	Images          []string            `json:"images"`
	BrandName       string              `json:"brand_name"`
	Gender          string              `json:"gender"`
	Price           decimal.NullDecimal `json:"price"`
	SalePrice       decimal.NullDecimal `json:"sale_price"`
	DiscountPercent decimal.NullDecimal `json:"discount_percent"`
}

// RawVariant is the selected size and color of a product.
type RawVariant struct {
	ID              ID                  `json:"id"`
	SKU             string              `json:"sku"`
	Size            string              `json:"size"`
	Color           string              `json:"color"`
	Price           decimal.NullDecimal `json:"price"`
	SalePrice       decimal.NullDecimal `json:"sale_price"`
	DiscountPercent decimal.NullDecimal `json:"discount_percent"`
	Stock           Stock               `json:"stock"`
	Images          []string            `json:"images"`
}

type itemInput struct {
	Product RawProduct `json:"product"`
	Variant RawVariant `json:"variant"`
	Qty     int        `json:"qty" validate:"min=1"`
}

// NewCartItem normalizes a product and variant into a cart line. The caller
// assigns CartItemID.
func NewCartItem(product RawProduct, variant RawVariant, qty int) (CartItem, error) {
	input := itemInput{Product: product, Variant: variant, Qty: qty}
	if err := validate.Struct(input); err != nil {
		return CartItem{}, formatValidationErrors(err)
	}

	listPrice, err := resolveListPrice(product, variant)
	if err != nil {
		return CartItem{}, err
	}
	salePrice := resolveSalePrice(product, variant, listPrice)
	images := resolveImages(product, variant)

	item := CartItem{
		VariantID: VariantID{
			ID:    variant.ID,
			Size:  strings.TrimSpace(variant.Size),
			Color: strings.TrimSpace(variant.Color),
		},
		Product: ProductRef{
			ID:    product.ID,
			Name:  strings.TrimSpace(product.Name),
			Image: resolveProductImage(product, images),
		},
		SKU:             firstNonEmpty(variant.SKU, product.SKU),
		Qty:             qty,
		VariantPrice:    listPrice,
		SalePrice:       salePrice,
		DiscountPercent: resolveDiscountPercent(product, variant),
		LineTotal:       money.LineTotal(salePrice, qty),
		Stock:           variant.Stock,
		Images:          images,
		BrandName:       product.BrandName,
		Gender:          product.Gender,
	}
	return item, nil
}

// resolveProductImage keeps the product's own image on the product ref and
// only borrows the first line image when the product has none.
func resolveProductImage(product RawProduct, images []string) string {
	if img := strings.TrimSpace(product.ProductImg); img != "" {
		return img
	}
	if len(images) > 0 {
		return images[0]
	}
	return ""
}

// resolveListPrice prefers the variant price and falls back to the product price.
func resolveListPrice(product RawProduct, variant RawVariant) (decimal.Decimal, error) {
	price, ok := firstValid(variant.Price, product.Price)
	if !ok {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"price": "is required"})
	}
	if price.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{"price": "must not be negative"})
	}
	return price, nil
}

// resolveSalePrice selects a sale price over the list price when present.
// A sale price above the list price or below zero is ignored.
func resolveSalePrice(product RawProduct, variant RawVariant, listPrice decimal.Decimal) decimal.Decimal {
	sale, ok := firstValid(variant.SalePrice, product.SalePrice)
	if !ok || sale.IsNegative() || sale.GreaterThan(listPrice) {
		return listPrice
	}
	return sale
}

// resolveDiscountPercent prefers the variant figure and clamps to [0, 100].
func resolveDiscountPercent(product RawProduct, variant RawVariant) decimal.Decimal {
	pct, ok := firstValid(variant.DiscountPercent, product.DiscountPercent)
	if !ok || pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// resolveImages prefers variant images, then the primary product image, then
// the product gallery.
func resolveImages(product RawProduct, variant RawVariant) []string {
	if images := compactStrings(variant.Images); len(images) > 0 {
		return images
	}
	if img := strings.TrimSpace(product.ProductImg); img != "" {
		return []string{img}
	}
	return compactStrings(product.Images)
}

func firstValid(values ...decimal.NullDecimal) (decimal.Decimal, bool) {
	for _, v := range values {
		if v.Valid {
			return v.Decimal, true
		}
	}
	return decimal.Zero, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func compactStrings(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func formatValidationErrors(err error) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	return "is invalid"
}
