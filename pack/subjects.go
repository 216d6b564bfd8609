package pack

import (
	"archive/zip"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"
)

const containerDocumentPath = "META-INF/container.xml"

// injectSubjects rewrites the package document of a finished container to
// carry one dc:subject element per tag. The writing library has no subject
// support, so the OPF is patched in place by rebuilding the archive.
func injectSubjects(epubPath string, tags []string) error {
	reader, err := zip.OpenReader(epubPath)
	if err != nil {
		return fmt.Errorf("failed to open container: %s", err)
	}
	defer reader.Close()

	opfPath, err := findPackagePath(&reader.Reader)
	if err != nil {
		return err
	}

	patched, err := patchPackageDocument(&reader.Reader, opfPath, tags)
	if err != nil {
		return err
	}

	tmpPath := epubPath + ".tmp"
	if err = rewriteArchive(&reader.Reader, tmpPath, opfPath, patched); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, epubPath)
}

// findPackagePath resolves the OPF location through META-INF/container.xml.
func findPackagePath(reader *zip.Reader) (string, error) {
	file, err := reader.Open(containerDocumentPath)
	if err != nil {
		return "", fmt.Errorf("container has no %s: %s", containerDocumentPath, err)
	}
	defer file.Close()

	doc := etree.NewDocument()
	if _, err = doc.ReadFrom(file); err != nil {
		return "", fmt.Errorf("failed to parse container document: %s", err)
	}

	rootfile := doc.FindElement("//rootfile")
	if rootfile == nil {
		return "", fmt.Errorf("container document lists no rootfile")
	}

	path := rootfile.SelectAttrValue("full-path", "")
	if path == "" {
		return "", fmt.Errorf("rootfile entry has no full-path")
	}

	return path, nil
}

// patchPackageDocument returns the OPF content with dc:subject elements
// appended to its metadata block.
func patchPackageDocument(reader *zip.Reader, opfPath string, tags []string) ([]byte, error) {
	file, err := reader.Open(opfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open package document %s: %s", opfPath, err)
	}
	defer file.Close()

	doc := etree.NewDocument()
	if _, err = doc.ReadFrom(file); err != nil {
		return nil, fmt.Errorf("failed to parse package document: %s", err)
	}

	metadata := doc.FindElement("//metadata")
	if metadata == nil {
		return nil, fmt.Errorf("package document has no metadata block")
	}

	for _, tag := range tags {
		subject := metadata.CreateElement("dc:subject")
		subject.SetText(tag)
	}

	return doc.WriteToBytes()
}

// rewriteArchive copies the container to a new archive, substituting the
// patched OPF. The mimetype entry keeps its mandatory stored compression.
func rewriteArchive(reader *zip.Reader, outPath string, opfPath string, opfContent []byte) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %s", outPath, err)
	}
	defer out.Close()

	writer := zip.NewWriter(out)
	defer writer.Close()

	for _, entry := range reader.File {
		header := entry.FileHeader
		target, err := writer.CreateHeader(&header)
		if err != nil {
			return fmt.Errorf("failed to copy archive entry %s: %s", entry.Name, err)
		}

		if entry.Name == opfPath {
			if _, err = target.Write(opfContent); err != nil {
				return fmt.Errorf("failed to write patched package document: %s", err)
			}
			continue
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to read archive entry %s: %s", entry.Name, err)
		}
		if _, err = io.Copy(target, src); err != nil {
			src.Close()
			return fmt.Errorf("failed to copy archive entry %s: %s", entry.Name, err)
		}
		src.Close()
	}

	return nil
}
