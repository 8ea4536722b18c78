// Package core holds processor configuration and numeric helpers shared by
// the convolution packages.
package core
