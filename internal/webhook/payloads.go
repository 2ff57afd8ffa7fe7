package webhook

import (
	"encoding/json"
	"strings"
)

// customerRef unmarshals the billing processor's customer field, which is a
// bare id string unless the sender expanded it into an object.
type customerRef struct {
	ID    string
	Email string
}

func (c *customerRef) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	var obj struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.ID = obj.ID
	c.Email = obj.Email
	return nil
}

type billingSubscription struct {
	ID               string      `json:"id"`
	Customer         customerRef `json:"customer"`
	Status           string      `json:"status"`
	CurrentPeriodEnd int64       `json:"current_period_end"`
	Items            struct {
		Data []struct {
			Price struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// firstPrice returns the price and product of the first line item.
func (s *billingSubscription) firstPrice() (priceID, productID string) {
	for _, item := range s.Items.Data {
		if strings.TrimSpace(item.Price.ID) != "" {
			return item.Price.ID, item.Price.Product
		}
	}
	return "", ""
}

type billingInvoice struct {
	ID         string      `json:"id"`
	Customer   customerRef `json:"customer"`
	AmountPaid int64       `json:"amount_paid"`
	Currency   string      `json:"currency"`
}

type checkoutSession struct {
	ID              string      `json:"id"`
	Customer        customerRef `json:"customer"`
	Subscription    string      `json:"subscription"`
	CustomerEmail   string      `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// email resolves the session's customer email, preferring the explicit field
// over the collected details.
func (s *checkoutSession) email() string {
	if e := strings.TrimSpace(s.CustomerEmail); e != "" {
		return strings.ToLower(e)
	}
	if e := strings.TrimSpace(s.CustomerDetails.Email); e != "" {
		return strings.ToLower(e)
	}
	if e := strings.TrimSpace(s.Customer.Email); e != "" {
		return strings.ToLower(e)
	}
	return ""
}

type billingCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type billingProduct struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
