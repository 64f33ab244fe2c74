package storefront

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Order is one purchase as returned by /api/v1/order/{gamekey}.
type Order struct {
	GameKey     string       `json:"gamekey"`
	Product     Product      `json:"product"`
	Subproducts []Subproduct `json:"subproducts"`
	TpkdDict    TpkdDict     `json:"tpkd_dict"`
}

type Product struct {
	HumanName   string `json:"human_name"`
	MachineName string `json:"machine_name"`
}

// Subproduct is a product inside an order. Raw keeps the full payload so the
// metadata extractors can look at fields the typed view does not name.
type Subproduct struct {
	HumanName   string         `json:"human_name"`
	MachineName string         `json:"machine_name"`
	Downloads   []Download     `json:"downloads"`
	Raw         map[string]any `json:"-"`
}

func (s *Subproduct) UnmarshalJSON(b []byte) error {
	type plain Subproduct
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Subproduct(p)
	s.Raw = raw
	return nil
}

type Download struct {
	Platform       string        `json:"platform"`
	MachineName    string        `json:"machine_name"`
	DownloadStruct []FileVariant `json:"download_struct"`
}

// FileVariant is one concrete file of a download (for example a 64-bit build
// next to a 32-bit build).
type FileVariant struct {
	Name     string     `json:"name"`
	Platform string     `json:"platform"`
	MD5      string     `json:"md5"`
	FileSize Size       `json:"file_size"`
	URL      VariantURL `json:"url"`
}

type VariantURL struct {
	Web        string `json:"web"`
	BitTorrent string `json:"bittorrent"`
}

type TpkdDict struct {
	AllTpks []Tpk `json:"all_tpks"`
}

// Tpk is a third-party key entitlement.
type Tpk struct {
	MachineName    string  `json:"machine_name"`
	HumanName      string  `json:"human_name"`
	KeyType        string  `json:"key_type"`
	RedeemedKeyVal *string `json:"redeemed_key_val"`
}

// Size is a byte count that decodes from a JSON number, a quoted number or
// null. The storefront is not consistent about which one it sends.
type Size int64

func (s *Size) UnmarshalJSON(b []byte) error {
	v := strings.TrimSpace(string(b))
	if v == "null" {
		*s = 0
		return nil
	}
	v = strings.TrimSpace(strings.Trim(v, `"`))
	if v == "" {
		*s = 0
		return nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*s = Size(n)
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("file size %q: %w", v, err)
	}
	*s = Size(f)
	return nil
}

// TroveProduct is one entry of the Humble Trove catalog. Downloads is keyed
// by platform.
type TroveProduct struct {
	HumanName   string                   `json:"human-name"`
	MachineName string                   `json:"machine_name"`
	Downloads   map[string]TroveDownload `json:"downloads"`
	Raw         map[string]any           `json:"-"`
}

func (p *TroveProduct) UnmarshalJSON(b []byte) error {
	type plain TroveProduct
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = TroveProduct(v)
	p.Raw = raw
	return nil
}

// TroveDownload names the file of one platform. URL.Web is the storage path
// that has to be signed before it can be fetched.
type TroveDownload struct {
	MachineName string     `json:"machine_name"`
	MD5         string     `json:"md5"`
	FileSize    Size       `json:"file_size"`
	URL         VariantURL `json:"url"`
}
