/*
Package atomicfile writes files so that readers see either the old
content or the complete new content, never a partial write.

	func writeManifest(path string, d []byte) error {
		w, err := atomicfile.New(path)
		if err != nil {
			return err
		}
		// calling Close() twice is a no-op
		defer w.Close()

		if _, err = w.Write(d); err != nil {
			return err
		}
		return w.Close()
	}

Errors returned by Write and Close remove the temporary file.
*/
package atomicfile
