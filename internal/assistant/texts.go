package assistant

import (
	"fmt"
	"strings"
)

// Fixed replies for the clear command.
const (
	ClearedReply       = "✅ Conversation cleared! Let's start fresh! 🚌🅿️"
	NothingToClearText = "No conversation to clear! We haven't chatted today! 🤔"
	ClearFailedReply   = "Alamak! Something went wrong when clearing! 😰"
)

// HelpText lists example questions and commands.
const HelpText = `🚌 **Lepak Driver Help**

**Bus Arrival Queries:**
• "Bus 174 at Ang Mo Kio Hub"
• "When is the next bus at ION Orchard?"
• "Bus arrivals at stop 28009"
• "Is bus 36 crowded now?"

**Parking Queries:**
• "Parking availability at Marina Bay"
• "How many lots at Jurong Point?"
• "Carparks in Orchard area"

**Commands:**
• /start - Welcome message
• /clear - Reset conversation
• /help - This help message

Just type naturally and I'll understand! 🇸🇬`

const welcomeTemplate = `🚌 **Welcome to Lepak Driver!**

Hi %s! I'm your Singapore transit assistant. I can help you with:

🚌 **Real-time bus arrivals**
• "When is bus 174 at Ang Mo Kio Hub?"
• "Bus arrivals at ION Orchard"
• "Check bus stop 28009"

🅿️ **Carpark availability**
• "Parking at Marina Bay"
• "How many lots at Jurong Point?"

Just ask me in natural language and I'll help you lepak around Singapore! 😊

💡 Use /clear to reset our conversation
💡 Use /help for more examples`

// WelcomeText greets name, or "there" when name is blank.
func WelcomeText(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(welcomeTemplate, name)
}

// ClearText is the reply to a clear request.
func ClearText(existed bool) string {
	if existed {
		return ClearedReply
	}
	return NothingToClearText
}
