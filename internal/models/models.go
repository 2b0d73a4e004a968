package models

import (
	"time"
)

// SaleStatus is the lifecycle state of a sale
type SaleStatus string

const (
	StatusPending   SaleStatus = "pending"
	StatusConfirmed SaleStatus = "confirmed"
	StatusCancelled SaleStatus = "cancelled"
	StatusVoided    SaleStatus = "voided"
	StatusClosed    SaleStatus = "closed"
)

// ReservingStatuses are the statuses whose numbers stay taken for the draw.
var ReservingStatuses = []SaleStatus{StatusPending, StatusConfirmed, StatusClosed}

// Reserves reports whether a sale in this status still holds its numbers.
func (s SaleStatus) Reserves() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusClosed
}

func (s SaleStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusVoided, StatusClosed:
		return true
	}
	return false
}

// Configuration is the single draw-wide settings row
type Configuration struct {
	ID                 int64      `json:"-" db:"id"`
	DrawDate           *string    `json:"drawDate" db:"draw_date"` // YYYY-MM-DD, nil when no draw is set
	DrawCorrelative    int64      `json:"drawCorrelative" db:"draw_correlative"`
	LastTicketNumber   int64      `json:"lastTicketNumber" db:"last_ticket_number"`
	TicketPriceUSD     float64    `json:"ticketPriceUsd" db:"ticket_price_usd"`
	USDRate            float64    `json:"usdRate" db:"usd_rate"`
	PageBlocked        bool       `json:"pageBlocked" db:"page_blocked"`
	BlockReasonMessage string     `json:"blockReasonMessage" db:"block_reason_message"`
	Schedule           StringList `json:"zuliaSchedule" db:"schedule"`
	AdminContacts      Contacts   `json:"adminContacts" db:"admin_contacts"`
	MailConfig         JSONObject `json:"mailConfig" db:"mail_config"`
	LastResultsDate    *string    `json:"lastResultsDate" db:"last_results_date"`
}

// DefaultConfiguration is what a fresh install starts with.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		ID:              1,
		DrawCorrelative: 1,
		TicketPriceUSD:  1.00,
		Schedule:        StringList{},
		MailConfig:      JSONObject{},
	}
}

// Clone returns a deep copy so cached values can't be mutated by callers.
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	out := *c
	if c.DrawDate != nil {
		d := *c.DrawDate
		out.DrawDate = &d
	}
	if c.LastResultsDate != nil {
		d := *c.LastResultsDate
		out.LastResultsDate = &d
	}
	out.Schedule = append(StringList{}, c.Schedule...)
	out.AdminContacts = Contacts{
		Phones:          append([]string(nil), c.AdminContacts.Phones...),
		Emails:          append([]string(nil), c.AdminContacts.Emails...),
		TelegramChatIDs: append([]int64(nil), c.AdminContacts.TelegramChatIDs...),
	}
	out.MailConfig = make(JSONObject, len(c.MailConfig))
	for k, v := range c.MailConfig {
		out.MailConfig[k] = v
	}
	return &out
}

// Contacts are the admin notification endpoints
type Contacts struct {
	Phones          []string `json:"phones,omitempty" yaml:"phones"`
	Emails          []string `json:"emails,omitempty" yaml:"emails"`
	TelegramChatIDs []int64  `json:"telegramChatIds,omitempty" yaml:"telegramChatIds"`
}

// Sale represents a purchase of one or more three-digit numbers
type Sale struct {
	ID                 string     `json:"id" db:"id"`
	TicketNumber       string     `json:"ticketNumber" db:"ticket_number"` // 4 digits, unique within the draw
	DrawCorrelative    int64      `json:"drawCorrelative" db:"draw_correlative"`
	DrawDate           string     `json:"drawDate" db:"draw_date"`
	Numbers            StringList `json:"numbers" db:"numbers"`
	BuyerName          string     `json:"buyerName" db:"buyer_name"`
	BuyerPhone         string     `json:"buyerPhone" db:"buyer_phone"`
	BuyerID            string     `json:"buyerId,omitempty" db:"buyer_id"`
	BuyerEmail         string     `json:"buyerEmail,omitempty" db:"buyer_email"`
	PaymentMethod      string     `json:"paymentMethod" db:"payment_method"`
	PaymentReference   string     `json:"paymentReference" db:"payment_reference"`
	ValueUSD           float64    `json:"valueUsd" db:"value_usd"`
	ValueLocal         float64    `json:"valueLocal" db:"value_local"`
	AppliedRate        float64    `json:"appliedRate" db:"applied_rate"`
	PurchaseTimestamp  Timestamp  `json:"purchaseTimestamp" db:"purchase_timestamp"`
	VoucherURI         string     `json:"voucherUri,omitempty" db:"voucher_uri"`
	Status             SaleStatus `json:"status" db:"status"`
	StatusTransitionAt Timestamp  `json:"statusTransitionAt" db:"status_transition_at"`
	StatusReason       string     `json:"statusReason,omitempty" db:"status_reason"`
}

// ResultEntry is an official lottery result for one schedule slot
type ResultEntry struct {
	DrawDate      string    `json:"drawDate" db:"draw_date"`
	Slot          string    `json:"slot" db:"slot"`
	WinningNumber string    `json:"winningNumber" db:"winning_number"`
	RecordedAt    Timestamp `json:"recordedAt" db:"recorded_at"`
}

// NewTimestamp truncates to microseconds so values survive every backend unchanged.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}
