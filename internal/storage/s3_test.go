package storage

import "testing"

func TestS3ParseKey(t *testing.T) {
	store := &S3Store{cfg: S3Config{
		Bucket:        "restyle-images",
		Region:        "us-east-1",
		PublicBaseURL: "https://cdn.restyle.example/images",
	}}

	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{
			name: "public base url",
			url:  "https://cdn.restyle.example/images/uploads/2026/08/photo.png",
			want: "uploads/2026/08/photo.png",
		},
		{
			name: "virtual hosted",
			url:  "https://restyle-images.s3.us-east-1.amazonaws.com/uploads/photo.jpg",
			want: "uploads/photo.jpg",
		},
		{
			name: "path style",
			url:  "https://s3.us-east-1.amazonaws.com/restyle-images/uploads/photo.jpg",
			want: "uploads/photo.jpg",
		},
		{
			name:    "wrong bucket",
			url:     "https://other-bucket.s3.us-east-1.amazonaws.com/uploads/photo.jpg",
			wantErr: true,
		},
		{
			name:    "relative url",
			url:     "uploads/photo.jpg",
			wantErr: true,
		},
		{
			name:    "no object key",
			url:     "https://restyle-images.s3.us-east-1.amazonaws.com/",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.ParseKey(tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got key %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ParseKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestS3PublicURL(t *testing.T) {
	store := &S3Store{cfg: S3Config{Bucket: "restyle-images", Region: "us-east-1"}}
	want := "https://restyle-images.s3.us-east-1.amazonaws.com/uploads/photo.jpg"
	if got := store.PublicURL("/uploads/photo.jpg"); got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}

	store.cfg.PublicBaseURL = "https://cdn.restyle.example/"
	if got := store.PublicURL("uploads/photo.jpg"); got != "https://cdn.restyle.example/uploads/photo.jpg" {
		t.Fatalf("PublicURL with base = %q", got)
	}
}
