package home

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var homeKeywords = []string{"light", "turn on", "turn off", "temperature", "thermostat", "set"}

var numberRe = regexp.MustCompile(`\d+`)

// IsHomeCommand decides whether an utterance should go to the device
// router instead of the LLM.
func IsHomeCommand(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range homeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// HandleCommand parses a spoken home-automation command and executes it,
// returning the sentence to speak back.
func (c *Controller) HandleCommand(text string) string {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "turn on") && strings.Contains(lower, "light"):
		return c.switchLight(lower, "on")

	case strings.Contains(lower, "turn off") && strings.Contains(lower, "light"):
		return c.switchLight(lower, "off")

	case strings.Contains(lower, "set brightness") ||
		(strings.Contains(lower, "dim") && strings.Contains(lower, "light")):
		brightness := parseBrightness(lower)
		if err := c.SetBrightness("bedroom_light", brightness); err != nil {
			return "Failed to set brightness."
		}
		return fmt.Sprintf("Brightness set to %d%%.", brightness)

	case strings.Contains(lower, "set temperature") || strings.Contains(lower, "thermostat"):
		m := numberRe.FindString(lower)
		if m == "" {
			return "What temperature would you like to set?"
		}
		temp, _ := strconv.ParseFloat(m, 64)
		if err := c.SetTemperature("thermostat_main", temp); err != nil {
			return "Failed to set temperature."
		}
		return fmt.Sprintf("Temperature set to %.0f degrees.", temp)
	}

	return "I'm not sure how to handle that home automation command."
}

func (c *Controller) switchLight(lower, action string) string {
	id, spoken := lightFromText(lower)
	if id == "" {
		return fmt.Sprintf("Which light would you like me to turn %s?", action)
	}
	if err := c.Control(id, action, nil); err != nil {
		return fmt.Sprintf("Failed to control the %s light.", spoken)
	}
	return fmt.Sprintf("%s light turned %s.", capitalize(spoken), action)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func lightFromText(lower string) (id, spoken string) {
	switch {
	case strings.Contains(lower, "bedroom"):
		return "bedroom_light", "bedroom"
	case strings.Contains(lower, "living room") || strings.Contains(lower, "livingroom"):
		return "living_room_light", "living room"
	}
	return "", ""
}

// parseBrightness checks for an explicit percentage before the coarse
// words, since "set brightness 40" also contains "bright".
func parseBrightness(lower string) int {
	if m := numberRe.FindString(lower); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v <= 100 {
			return v
		}
	}
	switch {
	case strings.Contains(lower, "low") || strings.Contains(lower, "dim"):
		return 30
	case strings.Contains(lower, "medium"):
		return 60
	case strings.Contains(lower, "high"):
		return 100
	}
	return 50
}
