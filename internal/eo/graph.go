package eo

import (
	"maps"
	"strconv"
)

// expression is the Earth Engine v1 serialized expression: a flat table of
// value nodes and the key of the result.
type expression struct {
	Result string               `json:"result"`
	Values map[string]valueNode `json:"values"`
}

// valueNode holds exactly one of its fields.
type valueNode struct {
	ConstantValue           any                 `json:"constantValue,omitempty"`
	DictionaryValue         *dictionaryValue    `json:"dictionaryValue,omitempty"`
	FunctionDefinitionValue *functionDefinition `json:"functionDefinitionValue,omitempty"`
	FunctionInvocationValue *functionInvocation `json:"functionInvocationValue,omitempty"`
	ArgumentReference       string              `json:"argumentReference,omitempty"`
	ValueReference          string              `json:"valueReference,omitempty"`
}

type dictionaryValue struct {
	Values map[string]valueNode `json:"values"`
}

type functionDefinition struct {
	ArgumentNames []string `json:"argumentNames"`
	Body          string   `json:"body"`
}

type functionInvocation struct {
	FunctionName string               `json:"functionName"`
	Arguments    map[string]valueNode `json:"arguments"`
}

// graph accumulates an Earth Engine expression. Every function call is
// stored once under a numeric key and referenced by that key, which keeps
// shared subexpressions from being serialized twice.
type graph struct {
	values map[string]valueNode
	next   int
}

func newGraph() *graph {
	return &graph{values: make(map[string]valueNode)}
}

// clone returns an independent copy so a prepared image can be sampled
// more than once.
func (g *graph) clone() *graph {
	return &graph{values: maps.Clone(g.values), next: g.next}
}

func (g *graph) add(node valueNode) *valueNode {
	key := strconv.Itoa(g.next)
	g.next++
	g.values[key] = node
	return &valueNode{ValueReference: key}
}

func (g *graph) call(fn string, args map[string]*valueNode) *valueNode {
	arguments := make(map[string]valueNode, len(args))
	for name, v := range args {
		arguments[name] = *v
	}
	return g.add(valueNode{
		FunctionInvocationValue: &functionInvocation{
			FunctionName: fn,
			Arguments:    arguments,
		},
	})
}

// lambda wraps body as a one-argument function usable by Collection.map.
func (g *graph) lambda(arg string, body *valueNode) *valueNode {
	return &valueNode{
		FunctionDefinitionValue: &functionDefinition{
			ArgumentNames: []string{arg},
			Body:          body.ValueReference,
		},
	}
}

func (g *graph) dict(entries map[string]*valueNode) *valueNode {
	values := make(map[string]valueNode, len(entries))
	for k, v := range entries {
		values[k] = *v
	}
	return &valueNode{DictionaryValue: &dictionaryValue{Values: values}}
}

func (g *graph) serialize(result *valueNode) *expression {
	return &expression{Result: result.ValueReference, Values: g.values}
}

func constant(v any) *valueNode {
	return &valueNode{ConstantValue: v}
}

func argRef(name string) *valueNode {
	return &valueNode{ArgumentReference: name}
}

// --- Image helpers ---

func (g *graph) selectBands(img *valueNode, bands ...string) *valueNode {
	return g.call("Image.select", map[string]*valueNode{
		"input":         img,
		"bandSelectors": constant(bands),
	})
}

func (g *graph) rename(img *valueNode, name string) *valueNode {
	return g.call("Image.rename", map[string]*valueNode{
		"input": img,
		"names": constant([]string{name}),
	})
}

func (g *graph) addBands(dst, src *valueNode) *valueNode {
	return g.call("Image.addBands", map[string]*valueNode{
		"dstImg": dst,
		"srcImg": src,
	})
}

func (g *graph) constantImage(v float64) *valueNode {
	return g.call("Image.constant", map[string]*valueNode{"value": constant(v)})
}

func (g *graph) projection(crs string) *valueNode {
	return g.call("Projection", map[string]*valueNode{"crs": constant(crs)})
}

// --- Collection helpers ---

func (g *graph) load(id string) *valueNode {
	return g.call("ImageCollection.load", map[string]*valueNode{"id": constant(id)})
}

func (g *graph) filterBounds(coll, region *valueNode) *valueNode {
	return g.call("Collection.filter", map[string]*valueNode{
		"collection": coll,
		"filter": g.call("Filter.intersects", map[string]*valueNode{
			"leftField":  constant(".all"),
			"rightValue": region,
		}),
	})
}

func (g *graph) filterDate(coll *valueNode, start, end string) *valueNode {
	return g.call("Collection.filter", map[string]*valueNode{
		"collection": coll,
		"filter": g.call("Filter.dateRangeContains", map[string]*valueNode{
			"leftValue": g.call("DateRange", map[string]*valueNode{
				"start": constant(start),
				"end":   constant(end),
			}),
			"rightField": constant("system:time_start"),
		}),
	})
}

func (g *graph) mapImages(coll *valueNode, arg string, body *valueNode) *valueNode {
	return g.call("Collection.map", map[string]*valueNode{
		"collection":    coll,
		"baseAlgorithm": g.lambda(arg, body),
	})
}
