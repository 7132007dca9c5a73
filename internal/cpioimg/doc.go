// Package cpioimg implements the reader, writer, and extraction engine for
// Linux initramfs images: concatenations of one or more newc/crc cpio
// archives, any suffix of which may be compressed by an external
// compressor understood by the kernel.
package cpioimg
