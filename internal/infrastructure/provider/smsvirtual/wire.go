package smsvirtual

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// envelope is the provider's common response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type wireSMS struct {
	SMS     string `json:"sms"`
	FullSMS string `json:"fullSms"`
}

type wireStatus struct {
	OrderStatus string          `json:"orderStatus"`
	Number      flexString      `json:"number"`
	Price       decimal.Decimal `json:"price"`
	ServiceID   flexString      `json:"serviceId"`
	SMS         []wireSMS       `json:"Sms"`
}

// wireCreate carries prices as bare JSON numbers.
type wireCreate struct {
	Country     int         `json:"country"`
	Service     string      `json:"service"`
	CustomPrice json.Number `json:"customPrice"`
	RangePrice  wireRange   `json:"rangePrice"`
	Operator    string      `json:"operator"`
}

type wireRange struct {
	Min json.Number `json:"min"`
	Max json.Number `json:"max"`
}

func number(d decimal.Decimal) json.Number { return json.Number(d.String()) }

type wireCreated struct {
	ID    flexString      `json:"id"`
	Phone flexString      `json:"phone"`
	Price decimal.Decimal `json:"price"`
}

type wireCustomPrice struct {
	Price  *decimal.Decimal `json:"price"`
	Amount *decimal.Decimal `json:"amount"`
}

type wirePrice struct {
	Country     flexInt           `json:"country"`
	PriceUSD    decimal.Decimal   `json:"priceUsd"`
	CustomPrice []wireCustomPrice `json:"customPrice"`
}

type wireService struct {
	ID   flexString `json:"id"`
	Name string     `json:"serviceName"`
}

type wireActive struct {
	OrderID     flexString      `json:"orderId"`
	Number      flexString      `json:"number"`
	Operator    string          `json:"operator"`
	Price       decimal.Decimal `json:"price"`
	OrderStatus string          `json:"orderStatus"`
	ServiceID   flexString      `json:"serviceId"`
	CountryID   flexInt         `json:"countryId"`
	ExpiredAt   int64           `json:"expiredAt"`
	SMS         []wireSMS       `json:"Sms"`
}

type wireBalance struct {
	Balance decimal.Decimal `json:"balance"`
}
