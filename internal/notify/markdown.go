package notify

import (
	"fmt"
	"strings"

	"github.com/technosupport/ts-curbside/internal/data"
	"github.com/technosupport/ts-curbside/internal/snapshot"
)

func MatchMarkdown(snap snapshot.Snapshot, order *data.Order, plate string) string {
	var b strings.Builder
	b.WriteString(">**CUSTOMER HAS ARRIVED**\n")
	if order != nil {
		fmt.Fprintf(&b, "Name: %s\n", orNA(order.Customer))
		fmt.Fprintf(&b, "Menu: %s\n", orNA(order.Menu))
		if order.Qty > 0 {
			fmt.Fprintf(&b, "Qty: %d\n", order.Qty)
		} else {
			b.WriteString("Qty: N/A\n")
		}
		fmt.Fprintf(&b, "Date order: %s\n", orderedAt(order))
		fmt.Fprintf(&b, "Order ID: #%d\n", order.ID)
	}
	fmt.Fprintf(&b, "Car plate: %s\n", orNA(plate))
	fmt.Fprintf(&b, "[Image URL](%s)\n", snap.ImageRef)
	return b.String()
}

func NoMatchMarkdown(snap snapshot.Snapshot, plate string) string {
	return ">**CAR PLATE DETECTED BUT NO ORDER MATCH**\n" +
		fmt.Sprintf("Car plate: %s\n", orNA(plate)) +
		fmt.Sprintf("[Image URL](%s)\n", snap.ImageRef)
}

func NoPlateMarkdown(snap snapshot.Snapshot) string {
	return ">**VEHICLE MOTION DETECTED BUT FAILED TO RECOGNIZE CAR PLATE**\n" +
		fmt.Sprintf("[Image URL](%s)\n", snap.ImageRef)
}
