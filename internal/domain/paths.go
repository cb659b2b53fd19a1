package domain

import "fmt"

// ImageKind selects which derivative of a sheet a path points at
type ImageKind string

const (
	ImageKindPage  ImageKind = "page"
	ImageKindThumb ImageKind = "thumb"
)

// DocumentStoragePath returns the raw upload location of a document.
// Format: {ownerId}/{projectId}/{packageId}/{documentId}/{filename}
func DocumentStoragePath(ownerID, projectID, packageID, documentID, filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", ownerID, projectID, packageID, documentID, filename)
}

// SheetImagePath returns the location of a rendered sheet image.
// Format: {ownerId}/{projectId}/{packageId}/{sheetId}/{kind}.png
func SheetImagePath(ownerID, projectID, packageID, sheetID string, kind ImageKind) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s.png", ownerID, projectID, packageID, sheetID, kind)
}
