/*
Package snippet parses the text of a raster algebra snippet into a Program.

A snippet is a list of statements, one per line or separated by ';':

	# normalized difference
	ndvi = (A@"nir" - A@"red") / (A@"nir" + A@"red")
	ndvi.set_no_data_value(-9999)
	ndvi.set_band_name(1, "NDVI")

Statements are either assignments, writer calls on an output, logging calls,
or a bare expression that is assigned to the default output. A bare
expression may only share the snippet with logging calls. Expressions use HCL's native expression syntax and are kept as
hclsyntax trees; band selectors (`A@3`, `A@2:4`, `A@"nir"`, `A@840nm`, ...)
are cut out of the text before HCL sees it and replaced by synthetic
variables. Comments and statement breaks are found by a small scanner of
its own, since HCL cannot lex single-quoted band names or '@'. Parsing happens once per run; tiles only evaluate the trees.
*/
package snippet
