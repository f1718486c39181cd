package offline0

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind is the label the classifier puts on a request.
type Kind string

const (
	KindStaticAsset  Kind = "static-asset"
	KindAPIOrContent Kind = "api-or-content"
	KindDynamicPage  Kind = "dynamic-page"
)

// Strategy names a caching algorithm.
type Strategy string

const (
	StrategyNone                 Strategy = ""
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate:
		return st, nil
	}
	return StrategyNone, fmt.Errorf("%q: %w", s, ErrUnknownStrat)
}

// Classification is computed from the URL alone and never stored.
type Classification struct {
	Kind Kind
	// Volatile marks dynamic pages that carry a search segment, a query or a
	// fragment. They are routed like content.
	Volatile bool
}

// Strategy maps the classification to the algorithm that serves it.
func (c Classification) Strategy() Strategy {
	switch c.Kind {
	case KindStaticAsset:
		return StrategyCacheFirst
	case KindAPIOrContent:
		return StrategyNetworkFirst
	}
	if c.Volatile {
		return StrategyNetworkFirst
	}
	return StrategyStaleWhileRevalidate
}

func (c Classification) String() string {
	if c.Volatile {
		return string(c.Kind) + "(volatile)"
	}
	return string(c.Kind)
}

// Classifier holds the build-time rule tables.
type Classifier struct {
	staticPrefixes []string
	staticSuffixes []string
	content        []pathPrefixMatcher
	searchSegment  string
}

func NewClassifier(cfg Config) *Classifier {
	suffixes := make([]string, 0, len(cfg.Classify.StaticSuffixes))
	for _, s := range cfg.Classify.StaticSuffixes {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			suffixes = append(suffixes, s)
		}
	}
	return &Classifier{
		staticPrefixes: cfg.Classify.StaticPrefixes,
		staticSuffixes: suffixes,
		content:        cfg.Classify.contentMatchers,
		searchSegment:  cfg.Classify.SearchSegment,
	}
}

// Classify is pure: rules are checked in order static, content, volatile.
func (c *Classifier) Classify(u *url.URL) Classification {
	path := u.Path
	if path == "" {
		path = "/"
	}

	for _, p := range c.staticPrefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return Classification{Kind: KindStaticAsset}
		}
	}
	lower := strings.ToLower(path)
	for _, s := range c.staticSuffixes {
		if strings.HasSuffix(lower, s) {
			return Classification{Kind: KindStaticAsset}
		}
	}

	for _, m := range c.content {
		if m.Match(path) {
			return Classification{Kind: KindAPIOrContent}
		}
	}

	if (c.searchSegment != "" && strings.Contains(path, c.searchSegment)) ||
		u.RawQuery != "" || u.ForceQuery || u.Fragment != "" {
		return Classification{Kind: KindDynamicPage, Volatile: true}
	}

	return Classification{Kind: KindDynamicPage}
}
