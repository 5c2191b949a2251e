/*
Package gridwalk splits a grid into tiles.

Every tile has a write core; cores never overlap and together cover the
grid exactly. A tile may also carry an overlap margin which widens only the
window that is read, so neighbourhood operators see the pixels around the
core:

	+-----------------+
	|   read window   |
	|  +-----------+  |
	|  |   core    |  |
	|  +-----------+  |
	+-----------------+

The read window is not clipped here; callers clip it against the grid and
pad whatever falls outside.
*/
package gridwalk
