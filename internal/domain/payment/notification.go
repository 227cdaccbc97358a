package payment

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Notification is a gateway webhook event.
type Notification struct {
	// Type is "payment" for payment events; other types are ignored.
	Type      string
	PaymentID string
	Status    Status
	Amount    decimal.Decimal
	// ExternalReference carries the order id when the checkout set one.
	ExternalReference string
	PreferenceID      string
}

// IsPayment reports whether n describes a payment with an id.
func (n Notification) IsPayment() bool {
	return n.Type == "payment" && n.PaymentID != ""
}

// ParseNotification decodes a webhook body. Unknown fields are skipped and
// "action" is accepted in place of "type".
//
//	{"type":"payment","data":{"id":123,"status":"approved",
//	 "transaction_amount":150.5,"external_reference":"<order id>",
//	 "preference_id":"pref-1"}}
func ParseNotification(body []byte) (Notification, error) {
	var (
		n      Notification
		action string
	)
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type":
			s, err := decodeString(d)
			n.Type = s
			return err
		case "action":
			s, err := decodeString(d)
			action = s
			return err
		case "data":
			return decodeData(d, &n)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return Notification{}, errors.Wrap(err, "decode notification")
	}

	if n.Type == "" {
		// Actions look like "payment.updated".
		n.Type, _, _ = strings.Cut(action, ".")
	}
	return n, nil
}

func decodeData(d *jx.Decoder, n *Notification) error {
	if d.Next() != jx.Object {
		return d.Skip()
	}
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			s, err := decodeID(d)
			n.PaymentID = s
			return err
		case "status":
			s, err := decodeString(d)
			n.Status = Status(s)
			return err
		case "transaction_amount":
			if d.Next() != jx.Number {
				return d.Skip()
			}
			num, err := d.Num()
			if err != nil {
				return err
			}
			amount, err := decimal.NewFromString(num.String())
			if err != nil {
				return errors.Wrap(err, "transaction_amount")
			}
			n.Amount = amount
			return nil
		case "external_reference":
			s, err := decodeString(d)
			n.ExternalReference = s
			return err
		case "preference_id":
			s, err := decodeString(d)
			n.PreferenceID = s
			return err
		default:
			return d.Skip()
		}
	})
}

// decodeID accepts both numeric and string ids.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return "", err
		}
		return num.String(), nil
	case jx.String:
		return d.Str()
	default:
		return "", d.Skip()
	}
}

func decodeString(d *jx.Decoder) (string, error) {
	if d.Next() != jx.String {
		return "", d.Skip()
	}
	s, err := d.Str()
	return strings.TrimSpace(s), err
}
