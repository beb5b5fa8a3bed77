// Package builtin provides the demo tool catalog served by the turnstream
// binary. The tools are deterministic and need no network access, which makes
// them useful for trying out tool calling against real providers.
package builtin

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hupe1980/turnstream/core"
	"github.com/hupe1980/turnstream/tool"
)

// Tools returns the full catalog: weather, calculator, clock, session state
// and agent transfer.
func Tools() []tool.Tool {
	return []tool.Tool{
		NewWeatherTool(),
		NewCalculatorTool(),
		NewClockTool(time.Now),
		tool.NewStateTool(),
		tool.NewTransferToAgentTool(),
	}
}

// NewWeatherTool returns get_weather, which answers with fixed mock data.
func NewWeatherTool() tool.Tool {
	return tool.NewFunctionTool("get_weather", "Get current weather information for a location",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "City and country, e.g. 'Berlin, DE'",
				},
			},
			"required": []string{"location"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			loc, _ := args["location"].(string)
			if strings.TrimSpace(loc) == "" {
				return nil, errors.New("location is required")
			}
			return map[string]any{
				"location":      loc,
				"temperature_c": 21.5,
				"condition":     "Partly Cloudy",
				"humidity":      60,
				"wind_kph":      12.3,
			}, nil
		})
}

// NewCalculatorTool returns calculator for basic arithmetic.
func NewCalculatorTool() tool.Tool {
	return tool.NewFunctionTool("calculator", "Perform basic math operations (add, subtract, multiply, divide, power, sqrt)",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"description": "Operation",
					"enum":        []string{"add", "subtract", "multiply", "divide", "power", "sqrt"},
				},
				"a": map[string]any{"type": "number", "description": "First number"},
				"b": map[string]any{"type": "number", "description": "Second number, unused for sqrt"},
			},
			"required": []string{"operation", "a"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			op, _ := args["operation"].(string)
			a, _ := number(args["a"])
			b, hasB := number(args["b"])
			if op != "sqrt" && !hasB {
				return nil, fmt.Errorf("operation %s needs b", op)
			}

			var result float64
			switch op {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				result = a / b
			case "power":
				result = math.Pow(a, b)
			case "sqrt":
				if a < 0 {
					return nil, errors.New("sqrt of a negative number")
				}
				result = math.Sqrt(a)
			default:
				return nil, fmt.Errorf("unsupported operation %q", op)
			}
			return map[string]any{"result": result}, nil
		})
}

// NewClockTool returns current_time. now is injectable for tests.
func NewClockTool(now func() time.Time) tool.Tool {
	return tool.NewFunctionTool("current_time", "Get the current time, optionally in an IANA time zone",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string", "description": "IANA zone such as Europe/Berlin"},
			},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			t := now()
			if tz, _ := args["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				t = t.In(loc)
			}
			return map[string]any{"time": t.Format(time.RFC3339), "zone": t.Location().String()}, nil
		})
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
