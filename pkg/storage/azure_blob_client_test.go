package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const azuriteConnectionString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;" +
	"AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;" +
	"BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		errContains      string
	}{
		{"empty connection string", "", "replies", "connection string is required"},
		{"empty container name", azuriteConnectionString, "", "container name is required"},
		{"missing key", "AccountName=test;BlobEndpoint=http://127.0.0.1:10000/test", "replies", "account name and key"},
		{"azurite", azuriteConnectionString, "replies", ""},
		{"public endpoint", "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net", "replies", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, zaptest.NewLogger(t))
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestNewAzureBlobClient_ServiceURL(t *testing.T) {
	client, err := NewAzureBlobClient("AccountName=acct;AccountKey=dGVzdA==", "replies", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://acct.blob.core.windows.net", client.serviceURL)

	client, err = NewAzureBlobClient(azuriteConnectionString, "replies", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", client.serviceURL)
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(" AccountName=a ; AccountKey=k==;;junk;=x;BlobEndpoint=http://h/a ")
	assert.Equal(t, map[string]string{
		"AccountName":  "a",
		"AccountKey":   "k==",
		"BlobEndpoint": "http://h/a",
	}, params)
}

func TestBlobPath(t *testing.T) {
	client, err := NewAzureBlobClient(azuriteConnectionString, "replies", nil)
	require.NoError(t, err)

	tests := []struct {
		name      string
		reference string
		want      string
		wantErr   bool
	}{
		{"full url", "http://127.0.0.1:10000/devstoreaccount1/replies/2026/01/02/abc.json", "2026/01/02/abc.json", false},
		{"sas query", "http://127.0.0.1:10000/devstoreaccount1/replies/abc.json?sv=1&sig=x", "abc.json", false},
		{"escaped", "http://127.0.0.1:10000/devstoreaccount1/replies/a%20b.json", "a b.json", false},
		{"container relative", "replies/abc.json", "abc.json", false},
		{"bare path", "/abc.json", "abc.json", false},
		{"empty", "  ", "", true},
		{"container only", "replies/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := client.BlobPath(tt.reference)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAzureBlobClient_Azurite(t *testing.T) {
	if os.Getenv("TALOS_AZURITE") == "" {
		t.Skip("set TALOS_AZURITE to run against a local Azurite")
	}
	client, err := NewAzureBlobClient(azuriteConnectionString, "talos-test", zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte(`{"id":"r1","results":["ABC"]}`)
	url, err := client.Upload(ctx, "test/r1.json", data, map[string]string{"request_id": "r1"})
	require.NoError(t, err)
	assert.Contains(t, url, "test/r1.json")

	got, err := client.Download(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
