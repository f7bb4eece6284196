package utils

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/MathisL971/expo-inklink-sub000/internal/model"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 256

// TicketQRData is the payload scanned at the door.
func TicketQRData(t model.Ticket) string {
	return fmt.Sprintf("TICKET:%s|EVENT:%s|TIER:%s|QTY:%d", t.ID, t.EventID, t.TierID, t.Quantity)
}

// TicketQRCode renders the ticket's QR payload as a PNG.
func TicketQRCode(t model.Ticket, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	return qrcode.Encode(TicketQRData(t), qrcode.Medium, size)
}
