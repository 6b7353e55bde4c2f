package main

import (
	"fmt"
	"strconv"
	"strings"

	"stratlab/internal/util"
)

// parseParams parses "name=value" pairs into a map.
func parseParams(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p, err)
		}
		out[name] = v
	}
	return out, nil
}

// parseWeights parses "SYMBOL=weight" pairs, upper-casing the symbols.
func parseWeights(pairs []string) (map[string]float64, error) {
	weights, err := parseParams(pairs)
	if err != nil {
		return nil, err
	}
	return util.UpperKeys(weights)
}

// parseAxis parses a sweep axis of the form "name=v1:v2:v3".
func parseAxis(s string) (string, []float64, error) {
	name, raw, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || raw == "" {
		return "", nil, fmt.Errorf("axis %q: want name=v1:v2:...", s)
	}
	var values []float64
	for _, part := range strings.Split(raw, ":") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return "", nil, fmt.Errorf("axis %q: %w", s, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}

// parseAxes parses every axis flag into a ParamGrid input. Repeating a name
// is an error.
func parseAxes(axes []string) (map[string][]float64, error) {
	out := make(map[string][]float64, len(axes))
	for _, a := range axes {
		name, values, err := parseAxis(a)
		if err != nil {
			return nil, err
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("axis %q given twice", name)
		}
		out[name] = values
	}
	return out, nil
}
