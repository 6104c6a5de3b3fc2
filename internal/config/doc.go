// Package config loads devctx settings.
//
// Precedence, lowest first: Defaults, a YAML file, DEVCTX_* environment
// variables, command-line flags. The YAML file is the one named by --config
// or DEVCTX_CONFIG, else the first of ./devctx.yaml and ./.devctx.yaml that
// exists. Nested settings map to environment variables by section, for
// example index.chunkSize is DEVCTX_INDEX_CHUNK_SIZE.
//
//	index:
//	  chunkSize: 800
//	  exclude: ["testdata/**"]
//	retrieval:
//	  minSimilarity: 0.4
//	  expansionRules:
//	    - name: billing
//	      triggers: [invoice, payment]
//	      enrichment: billing invoice payment
//	      fileHints: [billing]
package config
