// Package phpctx runs PHP extensions under test against a real interpreter
// while keeping the machine's own php.ini out of the picture.
//
// The interpreter and its active ini files are discovered once per process
// through php-config. Every test then gets a throwaway ini file holding that
// configuration plus an extension= line for the library under test, and runs
// php with -n -c so nothing else is loaded:
//
//	ctx := phpctx.MustGlobal()
//
//	ini, err := ctx.CreateINIFile("/path/to/libmyext.so")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ini.Close()
//
//	inv, err := ctx.Command(ini, "tests/php/smoke.php")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out, err := inv.Cmd().Output()
//
// Inside tests, RequireScripts wraps the above and reports failures through
// testing.TB.
package phpctx
