package tools

import (
	"fmt"
	"strings"

	"github.com/lepakdriver/lepakdriver/internal/stops"
	"github.com/lepakdriver/lepakdriver/internal/transit"
)

const (
	timestampLayout = "2006-01-02 15:04:05"

	// maxCarparksShown caps the carpark list for small screens.
	maxCarparksShown = 8

	// maxStopsWithArrivals caps how many matched stops get a live lookup.
	maxStopsWithArrivals = 3

	// maxServicesPerStop caps services listed per stop in location lookups.
	maxServicesPerStop = 3
)

var slotLabels = [3]string{"Next", "2nd", "3rd"}

// ArrivalText renders one NextBus slot: "Arriving now", "1 minute",
// "N minutes" or "unknown".
func ArrivalText(b transit.NextBus) string {
	if !b.MinutesKnown() {
		return "unknown"
	}
	switch m := *b.MinutesToArrival; {
	case m <= 0:
		return "Arriving now"
	case m == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", m)
	}
}

func writeService(sb *strings.Builder, svc *transit.ServiceArrival) {
	fmt.Fprintf(sb, "**🚌 Service %s** (%s):\n", svc.ServiceNo, svc.Operator)
	for i, bus := range svc.NextBuses {
		if !bus.Available {
			fmt.Fprintf(sb, "  • %s: No data available\n", slotLabels[i])
			continue
		}
		fmt.Fprintf(sb, "  • %s: **%s** - %s\n", slotLabels[i], ArrivalText(bus), bus.Crowding.Label())
	}
}

func formatArrivalFailure(f *transit.Failure) string {
	switch f.Kind {
	case transit.ErrorAuthFailed:
		return fmt.Sprintf("🔐 **Authentication Error**\n%s\n\nAdmin needs to check the LTA API key!", f.Message)
	case transit.ErrorNotFound:
		return fmt.Sprintf("❌ **Bus Stop Not Found**\n%s\n\n💡 **Try:**\n• Check if the bus stop code is correct (5 digits)\n• Search by location name instead\n• Make sure it's an active bus stop", f.Message)
	case transit.ErrorRateLimited:
		return fmt.Sprintf("🚦 **Too Many Requests**\n%s\n\nPlease wait a bit before trying again!", f.Message)
	case transit.ErrorTimeout:
		return fmt.Sprintf("⏰ **Request Timeout**\n%s\n\nThe API is slow. Please try again!", f.Message)
	case transit.ErrorConnection:
		return fmt.Sprintf("🌐 **Connection Error**\n%s\n\nCheck your internet connection and try again.", f.Message)
	case transit.ErrorMalformedResponse:
		return fmt.Sprintf("📄 **Data Format Error**\n%s\n\nAPI returned invalid data.", f.Message)
	default:
		return fmt.Sprintf("❌ **Error:** %s", f.Message)
	}
}

func formatCarparkFailure(f *transit.Failure) string {
	if f.Kind == transit.ErrorNotFound {
		return fmt.Sprintf("🌐 **API Request Failed**\n%s\n\nCheck internet and try again.", f.Message)
	}
	return formatArrivalFailure(f)
}

func noStopsText(query string) string {
	return fmt.Sprintf("❌ **No bus stops found** matching '%s'\n\n💡 **Try:**\n"+
		"• Different spelling or shorter search term\n"+
		"• Landmark names like 'ION Orchard' or 'Ang Mo Kio Hub'\n"+
		"• Area names like 'Marina Bay' or 'Jurong'\n"+
		"• Check for typos", query)
}

func formatCandidates(query string, matches []stops.Candidate) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 **Found %d bus stops** near '%s':\n\n", len(matches), query)
	for i, m := range matches {
		fmt.Fprintf(&sb, "**%d. %s** (Code: %s)\n", i+1, m.Stop.Description, m.Stop.Code)
		fmt.Fprintf(&sb, "📍 %s\n", m.Stop.RoadName)
		fmt.Fprintf(&sb, "🎯 Match: %.1f%%\n\n", m.Score*100)
	}
	sb.WriteString("💡 **Reply with the number** (e.g., '1') to get bus arrivals!")
	return sb.String()
}

func formatCarparks(result *transit.CarparkResult, f transit.CarparkFilter, stamp string) string {
	if len(result.Carparks) == 0 {
		switch {
		case f.CarparkID != "":
			return fmt.Sprintf("❌ **No carpark found** with ID `%s`\n\n💡 Try searching by area instead.", f.CarparkID)
		case f.Area != "":
			return fmt.Sprintf("❌ **No carparks found** in area `%s`\n\n💡 Try a different area name.", f.Area)
		default:
			return "❌ **No carpark data available** at this time."
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🅿️ **Carpark availability**\n⏰ *Updated: %s*\n\n", stamp)

	shown := result.Carparks
	if len(shown) > maxCarparksShown {
		shown = shown[:maxCarparksShown]
	}
	for _, cp := range shown {
		fmt.Fprintf(&sb, "**🏢 %s**\n", cp.Development)
		fmt.Fprintf(&sb, "📍 %s\n", cp.Location)
		fmt.Fprintf(&sb, "🚗 **%d lots available** (%s)\n", cp.AvailableLots, cp.LotType)
		fmt.Fprintf(&sb, "🆔 %s | 📍 %s\n\n", cp.CarparkID, cp.Area)
	}

	if extra := len(result.Carparks) - maxCarparksShown; extra > 0 {
		fmt.Fprintf(&sb, "... and **%d more** carparks available", extra)
	}
	return sb.String()
}
