// Command xmlsec canonicalizes, digests, verifies and decrypts XML documents.
//
//	xmlsec [-config file] [-log-level level] <command> [flags] <file|->
//
// Commands:
//
//	c14n     write the canonical form of a document
//	digest   print the base64 digest of the canonical form
//	verify   check the first ds:Signature of a document
//	decrypt  replace every xenc:EncryptedData by its plaintext
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
