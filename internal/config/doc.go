// Package config loads the Senechal YAML configuration into a typed tree.
//
// The tree is validated once at load time: unknown keys, missing prefixes or
// URLs and duplicate channel ids are rejected with an error naming the
// offending channel and command set. Channel and command-set order follows
// the document, since command matching is first-match-in-declaration-order.
package config
