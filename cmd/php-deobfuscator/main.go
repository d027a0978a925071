/*
PHP Deobfuscator (Entry Point)

This tool parses obfuscated PHP source files, folds encoded strings, decoder
functions and packed eval payloads back into readable code, and prints or writes
the result.

The parser supports PHP versions from 5.x through 8.x, depending on the configuration.
*/
package main

import (
	"github.com/whit3rabbit/phpunmixer/cmd/php-deobfuscator/cmd"
)

func main() {
	cmd.Execute()
}
